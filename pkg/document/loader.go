package document

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/beevik/etree"

	"exigo/pkg/existdb"
)

// Outcome tags a LoaderResult.
type Outcome int

const (
	// Handled means the loader produced the document tree.
	Handled Outcome = iota
	// Declined means the loader does not recognize the source; the host
	// should try the next loader.
	Declined
	// Failed means the loader recognized the source but loading failed.
	Failed
)

// LoaderResult is the tagged outcome of one loader attempt.
type LoaderResult struct {
	Outcome Outcome
	Root    *etree.Document
	Reason  string
	Err     error
}

// Loaded marks a successful load of root.
func Loaded(root *etree.Document) LoaderResult {
	return LoaderResult{Outcome: Handled, Root: root}
}

// Decline reports that the loader does not handle the source. The reason is
// a diagnostic for the aggregate "nothing handled it" error, not a failure.
func Decline(reason string) LoaderResult {
	return LoaderResult{Outcome: Declined, Reason: reason}
}

// Fail reports that loading was attempted and failed.
func Fail(err error) LoaderResult {
	return LoaderResult{Outcome: Failed, Err: err}
}

// Loader tries to produce a document tree from source, filling cfg with the
// document's remote address on success.
type Loader func(ctx context.Context, source string, cfg *Config) LoaderResult

var loaders = []Loader{ExistDBLoader}

// RegisterLoader appends a loader to the chain Open consults. Loaders run
// in registration order; the first Handled result wins.
func RegisterLoader(l Loader) {
	loaders = append(loaders, l)
}

// Open resolves source through the registered loaders and returns the
// loaded document. Sources every loader declines yield a *ConfigError
// listing the loaders' reasons.
func Open(ctx context.Context, source string, opts ...Option) (*Document, error) {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var reasons []string
	for _, load := range loaders {
		result := load(ctx, source, &cfg)
		switch result.Outcome {
		case Handled:
			return &Document{XML: result.Root, config: cfg}, nil
		case Failed:
			return nil, result.Err
		case Declined:
			reasons = append(reasons, result.Reason)
		}
	}
	return nil, &existdb.ConfigError{
		Reason: fmt.Sprintf("no loader handled source %q: %s", source, strings.Join(reasons, "; ")),
	}
}

var isExistDBURL = regexp.MustCompile(`^existdb(\+https?)?://.+`)

// ExistDBLoader loads a document from an eXist-db instance.
//
// A source matching the existdb[+http|+https]:// scheme derives a new
// connection, probing transport and REST prefix as needed. Otherwise, if
// cfg already carries a client, the source is taken as a document path
// below that client's root collection. Anything else is declined.
//
// On success cfg holds the client, the document's collection and filename,
// and (for URL sources) the source URL, so later Store and Delete calls
// know the document's address.
func ExistDBLoader(ctx context.Context, source string, cfg *Config) LoaderResult {
	switch {
	case isExistDBURL.MatchString(source):
		return loadFromURL(ctx, source, cfg)
	case cfg.Client != nil:
		return loadFromPath(ctx, source, cfg)
	default:
		return Decline("the source is neither an existdb URL nor is an existdb client configured")
	}
}

func loadFromURL(ctx context.Context, source string, cfg *Config) LoaderResult {
	client, err := existdb.ClientFromURL(ctx, source)
	if err != nil {
		return Fail(err)
	}
	cfg.Client = client

	parsed, err := url.Parse(source)
	if err != nil {
		return Fail(&existdb.ConfigError{Reason: fmt.Sprintf("unparseable URL %q", source), Err: err})
	}
	docPath := strings.TrimPrefix(
		existdb.ManglePath(parsed.Path),
		client.Connection().Prefix()+"/",
	)

	result := loadFromPath(ctx, docPath, cfg)
	if result.Outcome == Handled {
		cfg.SourceURL = source
	}
	return result
}

func loadFromPath(ctx context.Context, source string, cfg *Config) LoaderResult {
	docPath := existdb.ManglePath(source)
	conn := cfg.Client.Connection()
	target := conn.RootCollectionURL() + "/" + docPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Fail(&existdb.ReadError{Op: "load document", Err: err})
	}
	req.Header.Set("Accept", "application/xml")
	if conn.User() != "" || conn.Password() != "" {
		req.SetBasicAuth(conn.User(), conn.Password())
	}

	slog.Debug("Loading document", "url", target)
	resp, err := cfg.Client.HTTPClient().Do(req)
	if err != nil {
		return Fail(&existdb.ReadError{Op: "load document", Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Fail(&existdb.ReadError{Op: "load document", Status: resp.StatusCode,
			Err: fmt.Errorf("document %q: %w", docPath, existdb.ErrNotFound)})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Fail(&existdb.ReadError{Op: "load document", Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected response: %s", resp.Status)})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fail(&existdb.ReadError{Op: "load document", Status: resp.StatusCode, Err: err})
	}
	xml := etree.NewDocument()
	if err := xml.ReadFromBytes(body); err != nil {
		return Fail(&existdb.ReadError{Op: "load document", Status: resp.StatusCode,
			Err: fmt.Errorf("failed to parse document: %w", err)})
	}

	cfg.Collection = path.Dir(docPath)
	cfg.Filename = path.Base(docPath)
	return Loaded(xml)
}
