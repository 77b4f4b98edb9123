package existdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"exigo/internal/existtest"
)

func TestNewConnectionDefaults(t *testing.T) {
	conn, err := NewConnection(ConnectionOptions{})
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}

	if conn.Transport() != "http" {
		t.Errorf("expected transport http, got %s", conn.Transport())
	}
	if conn.Host() != "localhost" {
		t.Errorf("expected host localhost, got %s", conn.Host())
	}
	if conn.Port() != 8080 {
		t.Errorf("expected port 8080, got %d", conn.Port())
	}
	if conn.User() != "admin" {
		t.Errorf("expected user admin, got %s", conn.User())
	}
	if conn.Password() != "" {
		t.Errorf("expected empty password, got %s", conn.Password())
	}
	if conn.Prefix() != "exist" {
		t.Errorf("expected prefix exist, got %s", conn.Prefix())
	}
	if conn.BaseURL() != "http://localhost:8080/exist" {
		t.Errorf("unexpected base URL %s", conn.BaseURL())
	}
}

func TestNewConnectionInvalidTransport(t *testing.T) {
	_, err := NewConnection(ConnectionOptions{Transport: "gopher"})
	var configErr *ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestRootCollectionRoundTrip(t *testing.T) {
	conn, err := NewConnection(ConnectionOptions{})
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}

	tests := []struct {
		set      string
		expected string
		url      string
	}{
		{"/db/foo/bar/", "db/foo/bar", "http://localhost:8080/exist/rest/db/foo/bar"},
		{"db/foo/bar", "db/foo/bar", "http://localhost:8080/exist/rest/db/foo/bar"},
		// The synthetic current-directory marker must not leave a
		// degenerate trailing path element.
		{"/", ".", "http://localhost:8080/exist/rest"},
	}

	for _, tt := range tests {
		t.Run(tt.set, func(t *testing.T) {
			conn.SetRootCollection(tt.set)
			if conn.RootCollection() != tt.expected {
				t.Errorf("expected root collection %q, got %q", tt.expected, conn.RootCollection())
			}
			if conn.RootCollectionURL() != tt.url {
				t.Errorf("expected URL %q, got %q", tt.url, conn.RootCollectionURL())
			}
		})
	}
}

// serverHostPort splits a httptest server URL into host and port.
func serverHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse server URL: %v", err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatalf("failed to parse server port: %v", err)
	}
	return parsed.Hostname(), port
}

func TestConnectionFromURL(t *testing.T) {
	srv := existtest.New()
	defer srv.Close()
	host, port := serverHostPort(t, srv.URL)

	rawURL := fmt.Sprintf("existdb+http://admin:@%s:%d/exist/db/foo.xml", host, port)
	conn, err := ConnectionFromURL(context.Background(), rawURL)
	if err != nil {
		t.Fatalf("ConnectionFromURL failed: %v", err)
	}

	if conn.Transport() != "http" {
		t.Errorf("expected transport http, got %s", conn.Transport())
	}
	if conn.User() != "admin" {
		t.Errorf("expected user admin, got %q", conn.User())
	}
	if conn.Password() != "" {
		t.Errorf("expected empty password, got %q", conn.Password())
	}
	if conn.Host() != host {
		t.Errorf("expected host %s, got %s", host, conn.Host())
	}
	if conn.Port() != port {
		t.Errorf("expected port %d, got %d", port, conn.Port())
	}
	if conn.Prefix() != "exist" {
		t.Errorf("expected prefix exist, got %q", conn.Prefix())
	}
}

func TestConnectionFromURLProbesTransport(t *testing.T) {
	srv := existtest.New()
	defer srv.Close()
	host, port := serverHostPort(t, srv.URL)

	// The https candidate points at a closed port, so probing has to fall
	// through to http, mirroring the https-first preference.
	ports := []transportPort{
		{"https", 1},
		{"http", port},
	}
	conn, err := connectionFromURL(context.Background(),
		fmt.Sprintf("existdb://admin:@%s/exist", host), http.DefaultClient, ports)
	if err != nil {
		t.Fatalf("connectionFromURL failed: %v", err)
	}

	if conn.Transport() != "http" {
		t.Errorf("expected probed transport http, got %s", conn.Transport())
	}
	if conn.Port() != port {
		t.Errorf("expected probed port %d, got %d", port, conn.Port())
	}
}

func TestConnectionFromURLPrefersHTTPS(t *testing.T) {
	tlsSrv := existtest.NewTLS()
	defer tlsSrv.Close()
	plainSrv := existtest.New()
	defer plainSrv.Close()

	host, tlsPort := serverHostPort(t, tlsSrv.URL)
	_, plainPort := serverHostPort(t, plainSrv.URL)

	// Both candidates answer; the first listed wins. The TLS server's client
	// trusts its certificate and serves plain requests too.
	ports := []transportPort{
		{"https", tlsPort},
		{"http", plainPort},
	}
	conn, err := connectionFromURL(context.Background(),
		fmt.Sprintf("existdb://admin:@%s/exist", host), tlsSrv.Client(), ports)
	if err != nil {
		t.Fatalf("connectionFromURL failed: %v", err)
	}

	if conn.Transport() != "https" {
		t.Errorf("expected probed transport https, got %s", conn.Transport())
	}
	if conn.Port() != tlsPort {
		t.Errorf("expected probed port %d, got %d", tlsPort, conn.Port())
	}
	if conn.Prefix() != "exist" {
		t.Errorf("expected prefix exist, got %q", conn.Prefix())
	}
}

func TestTransportProbeSendsCredentials(t *testing.T) {
	var authorization string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && r.URL.Path == "/" {
			authorization = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/exist/rest") {
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, `<exist:result xmlns:exist="http://exist.sourceforge.net/NS/exist"/>`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	host, port := serverHostPort(t, srv.URL)

	ports := []transportPort{{"http", port}}
	_, err := connectionFromURL(context.Background(),
		fmt.Sprintf("existdb://admin:secret@%s/exist", host), http.DefaultClient, ports)
	if err != nil {
		t.Fatalf("connectionFromURL failed: %v", err)
	}

	if authorization == "" {
		t.Error("expected the transport probe to carry basic auth credentials")
	}
}

func TestConnectionFromURLLongestPrefix(t *testing.T) {
	srv := existtest.New()
	defer srv.Close()
	srv.Prefix = "apps/exist"
	host, port := serverHostPort(t, srv.URL)

	rawURL := fmt.Sprintf("existdb+http://%s:%d/apps/exist/db/foo.xml", host, port)
	conn, err := ConnectionFromURL(context.Background(), rawURL)
	if err != nil {
		t.Fatalf("ConnectionFromURL failed: %v", err)
	}

	if conn.Prefix() != "apps/exist" {
		t.Errorf("expected prefix apps/exist, got %q", conn.Prefix())
	}
}

func TestConnectionFromURLFailures(t *testing.T) {
	srv := existtest.New()
	defer srv.Close()
	srv.Username = "admin"
	srv.Password = "secret"
	host, port := serverHostPort(t, srv.URL)

	tests := []struct {
		name string
		url  string
	}{
		{
			name: "unrecognized scheme",
			url:  fmt.Sprintf("http://%s:%d/exist", host, port),
		},
		{
			name: "invalid transport suffix",
			url:  fmt.Sprintf("existdb+ftp://%s:%d/exist", host, port),
		},
		{
			name: "rejected authentication",
			url:  fmt.Sprintf("existdb+http://admin:wrong@%s:%d/exist", host, port),
		},
		{
			name: "no matching prefix",
			url:  fmt.Sprintf("existdb+http://admin:secret@%s:%d/nothing/here", host, port),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConnectionFromURL(context.Background(), tt.url)
			var configErr *ConfigError
			if !errors.As(err, &configErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}
