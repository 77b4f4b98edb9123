package existdb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const (
	DefaultTransport      = "http"
	DefaultHost           = "localhost"
	DefaultPort           = 8080
	DefaultUser           = "admin"
	DefaultPrefix         = "exist"
	DefaultRootCollection = "/"
)

type transportPort struct {
	transport string
	port      int
}

// Probing order matters: encrypted connections are preferred.
var transportPorts = []transportPort{
	{"https", 443},
	{"http", 80},
}

var xmlContentType = regexp.MustCompile(`^(application|text)/xml(;.+)?`)

// ConnectionOptions configures a Connection. Zero values fall back to the
// package defaults; see NewConnection.
type ConnectionOptions struct {
	Transport      string
	Host           string
	Port           int
	User           string
	Password       string
	Prefix         string
	RootCollection string
}

// Connection describes how to reach one eXist-db instance: transport, host,
// port, credentials and the instance's REST path prefix. It is immutable
// after construction except for the root collection, which scopes all
// document paths and queries issued through it.
type Connection struct {
	transport      string
	user           string
	password       string
	host           string
	port           int
	prefix         string
	rootCollection string
}

// NewConnection builds a Connection from opts, applying defaults for unset
// fields (http, localhost, 8080, admin, empty password, "exist", "/").
func NewConnection(opts ConnectionOptions) (*Connection, error) {
	setConnectionDefaults(&opts)
	if err := validateConnection(&opts); err != nil {
		return nil, err
	}

	c := &Connection{
		transport: opts.Transport,
		user:      opts.User,
		password:  opts.Password,
		host:      opts.Host,
		port:      opts.Port,
		prefix:    ManglePath(opts.Prefix),
	}
	c.SetRootCollection(opts.RootCollection)
	return c, nil
}

func setConnectionDefaults(opts *ConnectionOptions) {
	if opts.Transport == "" {
		opts.Transport = DefaultTransport
	}
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.User == "" {
		opts.User = DefaultUser
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.RootCollection == "" {
		opts.RootCollection = DefaultRootCollection
	}
}

func validateConnection(opts *ConnectionOptions) error {
	switch opts.Transport {
	case "http", "https":
	default:
		return &ConfigError{Reason: fmt.Sprintf("invalid transport %q", opts.Transport)}
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return &ConfigError{Reason: fmt.Sprintf("invalid port %d", opts.Port)}
	}
	return nil
}

// ConnectionFromURL derives a Connection from an URL of the form
//
//	existdb[+http|+https]://[user[:password]]@host[:port][/prefix]/path
//
// If the scheme carries no transport suffix, the host is probed first on
// https:443, then on http:80 (an explicit port overrides both defaults).
// The instance's REST prefix is then probed by requesting successively
// shorter leading parts of the URL path until one answers on .../rest/ with
// an XML body whose root is eXist's result element; the longest such prefix
// wins. Path parts beyond the prefix are ignored.
func ConnectionFromURL(ctx context.Context, rawURL string) (*Connection, error) {
	return connectionFromURL(ctx, rawURL, http.DefaultClient, transportPorts)
}

func connectionFromURL(ctx context.Context, rawURL string, httpClient *http.Client, ports []transportPort) (*Connection, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("unparseable URL %q", rawURL), Err: err}
	}

	var transport string
	switch {
	case parsed.Scheme == "existdb":
		transport = ""
	case strings.HasPrefix(parsed.Scheme, "existdb+"):
		transport = strings.TrimPrefix(parsed.Scheme, "existdb+")
		if transport != "http" && transport != "https" {
			return nil, &ConfigError{Reason: fmt.Sprintf("invalid transport %q for existdb", transport)}
		}
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid URL scheme %q for existdb", parsed.Scheme)}
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, &ConfigError{Reason: fmt.Sprintf("missing host in URL %q", rawURL)}
	}

	var user, password string
	if parsed.User != nil {
		user = parsed.User.Username()
		password, _ = parsed.User.Password()
	}

	port := 0
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("invalid port in URL %q", rawURL), Err: err}
		}
	}

	if transport == "" {
		transport, port, err = probeTransport(ctx, httpClient, host, port, user, password, ports)
		if err != nil {
			return nil, err
		}
	} else if port == 0 {
		for _, tp := range ports {
			if tp.transport == transport {
				port = tp.port
			}
		}
	}

	prefix, err := probeInstancePrefix(ctx, httpClient, transport, host, port, user, password, parsed.Path)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		transport: transport,
		user:      user,
		password:  password,
		host:      host,
		port:      port,
		prefix:    ManglePath(prefix),
	}
	c.SetRootCollection(DefaultRootCollection)
	return c, nil
}

// probeTransport finds a transport/port combination the host answers on.
// Any response counts; authentication and prefix checks come later, but the
// credentials travel along so both probes present themselves identically.
func probeTransport(ctx context.Context, httpClient *http.Client, host string, port int, user, password string, ports []transportPort) (string, int, error) {
	for _, tp := range ports {
		p := port
		if p == 0 {
			p = tp.port
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead,
			fmt.Sprintf("%s://%s:%d/", tp.transport, host, p), nil)
		if err != nil {
			continue
		}
		if user != "" || password != "" {
			req.SetBasicAuth(user, password)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		return tp.transport, p, nil
	}
	return "", 0, &ConfigError{Reason: fmt.Sprintf("couldn't figure out how to talk to %q", host)}
}

// probeInstancePrefix scans leading parts of path, longest first, for one
// under which {base}/{candidate}/rest/ serves eXist's XML result envelope.
// Longest-first matters because different instances may have overlapping
// prefixes; it will yield false results if the path itself contains a part
// named "rest".
func probeInstancePrefix(ctx context.Context, httpClient *http.Client, transport, host string, port int, user, password, path string) (string, error) {
	base := fmt.Sprintf("%s://%s:%d", transport, host, port)
	parts := strings.Split(ManglePath(path), "/")

	for i := len(parts); i >= 1; i-- {
		candidate := strings.Join(parts[:i], "/")
		if candidate == "" || candidate == "." {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+candidate+"/rest/", nil)
		if err != nil {
			return "", &ConfigError{Reason: "failed to build probe request", Err: err}
		}
		if user != "" || password != "" {
			req.SetBasicAuth(user, password)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return "", &ConfigError{Reason: "failed authentication"}
		}
		if !xmlContentType.MatchString(resp.Header.Get("Content-Type")) {
			resp.Body.Close()
			continue
		}

		doc := etree.NewDocument()
		_, err = doc.ReadFrom(resp.Body)
		resp.Body.Close()
		if err != nil {
			continue
		}
		if root := doc.Root(); root != nil && root.Tag == "result" && root.NamespaceURI() == ExistNamespace {
			return candidate, nil
		}
	}

	return "", &ConfigError{Reason: "couldn't determine the location of the 'rest' interface"}
}

// Transport returns the transport protocol, "http" or "https".
func (c *Connection) Transport() string { return c.transport }

// Host returns the database hostname.
func (c *Connection) Host() string { return c.host }

// Port returns the database port number.
func (c *Connection) Port() int { return c.port }

// User returns the name used to authenticate against the database.
func (c *Connection) User() string { return c.user }

// Password returns the password used to authenticate against the database.
func (c *Connection) Password() string { return c.password }

// Prefix returns the instance's REST path prefix in mangled form.
func (c *Connection) Prefix() string { return c.prefix }

// RootCollection returns the configured root collection in mangled form.
func (c *Connection) RootCollection() string { return c.rootCollection }

// SetRootCollection sets the collection that scopes all document paths and
// queries, e.g. "/db/foo/bar".
func (c *Connection) SetRootCollection(path string) {
	c.rootCollection = ManglePath(path)
}

// BaseURL returns the URL of the eXist instance. Credentials are not
// embedded; they travel in basic-auth headers instead.
func (c *Connection) BaseURL() string {
	base := fmt.Sprintf("%s://%s:%d", c.transport, c.host, c.port)
	if c.prefix == "." {
		return base
	}
	return base + "/" + c.prefix
}

// RootCollectionURL returns the REST URL of the configured root collection.
func (c *Connection) RootCollectionURL() string {
	result := c.BaseURL() + "/rest/" + c.rootCollection
	// "." as root collection would leave a degenerate "/." path element.
	return strings.TrimSuffix(result, "/.")
}
