package existdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// ErrNotFound reports that a document or node does not exist in the database.
// It is wrapped by the operation-level error types, so callers should test
// for it with errors.Is.
var ErrNotFound = errors.New("resource not found")

// ConfigError reports an unusable connection configuration: an unrecognized
// URL scheme, a failed transport or prefix probe, an invalid filename, or an
// operation on a handle that has lost its identity.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("existdb config: %s: %v", e.Reason, e.Err)
	}
	return "existdb config: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ReadError reports a failed read against the database that is not an
// XQuery-level error. A Status of 404 wraps ErrNotFound.
type ReadError struct {
	Op     string
	Status int
	Err    error
}

func (e *ReadError) Error() string {
	msg := fmt.Sprintf("existdb read: %s failed", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports a failed create, update or delete, including the
// conflict raised when storing over an existing document without permission
// to replace it.
type WriteError struct {
	Op     string
	Status int
	Err    error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("existdb write: %s failed", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() error { return e.Err }

// QueryError reports a structured XQuery compile or runtime failure. The
// server answers these with HTTP 400 and an <exception> body naming the
// collection path and one or more messages; the submitted payload is kept
// for diagnostics.
type QueryError struct {
	Path     string
	Messages []string
	Payload  string
	Status   int
}

func (e *QueryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "existdb query on collection %q failed:", e.Path)
	for _, m := range e.Messages {
		b.WriteString("\n- " + m)
	}
	if e.Payload != "" {
		b.WriteString("\npayload:\n" + e.Payload)
	}
	return b.String()
}

// parseQueryError extracts the path and messages from an <exception>
// response body. A body that does not parse as such still yields a
// QueryError, just without the structured details.
func parseQueryError(body []byte, payload string, status int) *QueryError {
	qe := &QueryError{Payload: payload, Status: status}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return qe
	}
	root := doc.Root()
	if root == nil || root.Tag != "exception" {
		return qe
	}
	if p := root.FindElement("path"); p != nil {
		qe.Path = p.Text()
	}
	for _, m := range root.FindElements("message") {
		qe.Messages = append(qe.Messages, m.Text())
	}
	return qe
}
