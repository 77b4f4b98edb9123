package document

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"exigo/pkg/existdb"
)

// StoreOptions selects where and how Store writes the document. Zero-value
// Collection and Filename default to the document's current address.
type StoreOptions struct {
	Collection      string
	Filename        string
	ReplaceExisting bool
}

// Store writes the document's current state to the database.
//
// Unless ReplaceExisting is set, an existence check precedes the write and
// an occupied target yields a *WriteError. The check and the write are two
// separate requests with no server-side atomicity, so concurrent writers
// can both pass the check; the last write wins. On success the document's
// local collection and filename are updated to the target.
func (d *Document) Store(ctx context.Context, opts StoreOptions) error {
	client := d.config.Client
	if client == nil {
		return &existdb.ConfigError{Reason: "document has no configured eXist-db client"}
	}

	collection := opts.Collection
	if collection == "" {
		collection = d.config.Collection
	}
	collection = existdb.ManglePath(collection)

	filename := opts.Filename
	if filename == "" {
		filename = d.config.Filename
	}
	if err := existdb.ValidateFilename(filename); err != nil {
		return err
	}

	conn := client.Connection()
	target := conn.RootCollectionURL() + "/" + remotePath(collection, filename)

	if !opts.ReplaceExisting {
		exists, err := d.targetExists(ctx, target)
		if err != nil {
			return err
		}
		if exists {
			return &existdb.WriteError{Op: "store document",
				Err: fmt.Errorf("document already exists at %q, overwriting must be allowed explicitly",
					remotePath(collection, filename))}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, strings.NewReader(d.String()))
	if err != nil {
		return &existdb.WriteError{Op: "store document", Err: err}
	}
	req.Header.Set("Content-Type", "application/xml")
	d.authorize(req)

	slog.Debug("Storing document", "url", target)
	resp, err := client.HTTPClient().Do(req)
	if err != nil {
		return &existdb.WriteError{Op: "store document", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return &existdb.WriteError{Op: "store document", Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected response: %s", resp.Status)}
	}

	d.config.Collection = collection
	d.config.Filename = filename
	return nil
}

// targetExists issues a HEAD request for target. The answer is only a
// snapshot; see Store on the race this implies.
func (d *Document) targetExists(ctx context.Context, target string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false, &existdb.WriteError{Op: "store document", Err: err}
	}
	d.authorize(req)

	resp, err := d.config.Client.HTTPClient().Do(req)
	if err != nil {
		return false, &existdb.WriteError{Op: "store document", Err: err}
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Delete removes the document at its current collection and filename from
// the database.
func (d *Document) Delete(ctx context.Context) error {
	client := d.config.Client
	if client == nil {
		return &existdb.ConfigError{Reason: "document has no configured eXist-db client"}
	}
	if d.config.Filename == "" {
		return &existdb.ConfigError{Reason: "document has no filename to delete"}
	}
	return client.DeleteDocument(ctx, remotePath(d.config.Collection, d.config.Filename))
}

func (d *Document) authorize(req *http.Request) {
	conn := d.config.Client.Connection()
	if conn.User() != "" || conn.Password() != "" {
		req.SetBasicAuth(conn.User(), conn.Password())
	}
}
