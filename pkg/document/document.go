// Package document integrates XML documents with eXist-db storage.
//
// A Document pairs an etree document tree with a typed configuration that
// remembers where it lives remotely: the client it was loaded through, its
// collection relative to that client's root collection, and its filename.
// Documents are obtained through Open, which dispatches the source value to
// registered loaders, or created locally with New/Parse and stored later.
package document

import (
	"fmt"
	"path"

	"github.com/beevik/etree"

	"exigo/pkg/existdb"
)

// Config is the document-local storage configuration. It replaces the
// attribute-bag style configuration of dynamically typed hosts with named
// fields.
type Config struct {
	// Client connects the document to one eXist-db instance. Nil for
	// documents without a remote address.
	Client *existdb.Client

	// Collection is the document's collection, relative to the client's
	// root collection. "." denotes the root collection itself.
	Collection string

	// Filename is the document's name within Collection, always a single
	// path segment.
	Filename string

	// SourceURL records the existdb:// URL the document was loaded from,
	// if it was loaded that way.
	SourceURL string
}

// Document is an XML document with an optional remote address in an
// eXist-db instance.
type Document struct {
	// XML is the document tree. It may be mutated freely; changes reach
	// the database only through Store.
	XML *etree.Document

	config Config
}

// Option adjusts a document's storage configuration.
type Option func(*Config)

// WithClient couples the document to client. The collection defaults to the
// client's root collection.
func WithClient(client *existdb.Client) Option {
	return func(cfg *Config) {
		cfg.Client = client
		if cfg.Collection == "" {
			cfg.Collection = "."
		}
	}
}

// New wraps an existing tree in a Document.
func New(xml *etree.Document, opts ...Option) *Document {
	doc := &Document{XML: xml, config: Config{Collection: "."}}
	for _, opt := range opts {
		opt(&doc.config)
	}
	return doc
}

// Parse builds a Document from an XML string.
func Parse(source string, opts ...Option) (*Document, error) {
	xml := etree.NewDocument()
	if err := xml.ReadFromString(source); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return New(xml, opts...), nil
}

// Client returns the eXist-db client the document is coupled to, or nil.
func (d *Document) Client() *existdb.Client { return d.config.Client }

// Collection returns the document's collection relative to the client's
// root collection.
func (d *Document) Collection() string { return d.config.Collection }

// SetCollection designates another collection to store to.
func (d *Document) SetCollection(collection string) {
	d.config.Collection = existdb.ManglePath(collection)
}

// Filename returns the document's name within its collection.
func (d *Document) Filename() string { return d.config.Filename }

// SetFilename designates another name to store under. The name must be a
// single path segment.
func (d *Document) SetFilename(filename string) error {
	if err := existdb.ValidateFilename(filename); err != nil {
		return err
	}
	d.config.Filename = filename
	return nil
}

// SourceURL returns the URL the document was loaded from, if any.
func (d *Document) SourceURL() string { return d.config.SourceURL }

// String serializes the document tree.
func (d *Document) String() string {
	if d.XML == nil {
		return ""
	}
	s, err := d.XML.WriteToString()
	if err != nil {
		return ""
	}
	return s
}

// remotePath joins collection and filename into the document's address
// below the client's root collection.
func remotePath(collection, filename string) string {
	return path.Join(existdb.ManglePath(collection), filename)
}
