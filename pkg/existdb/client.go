// Package existdb is a client for the RESTful XQuery interface of eXist-db.
//
// A Client executes XQuery expressions against one database instance and
// maps matched nodes to NodeResource handles that can be pulled, pushed and
// deleted individually. Remote addressing uses the database's own identity
// scheme: an absolute resource id for the containing document plus a
// structural node id within it. Both ids are only meaningful against the
// instance that produced them.
package existdb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/beevik/etree"
)

// Client issues synchronous operations against one eXist-db instance. It is
// stateless with respect to the resources it hands out: every call is a
// single request/response cycle, nothing is cached or retried. Concurrent
// use inherits whatever safety the underlying http.Client provides.
type Client struct {
	conn       *Connection
	httpClient *http.Client
}

// NewClient couples a Client to conn using a dedicated HTTP client with
// default (kept-alive) transport behavior.
func NewClient(conn *Connection) *Client {
	return &Client{conn: conn, httpClient: &http.Client{}}
}

// ClientFromURL derives the connection from an existdb:// URL, probing
// transport and REST prefix as needed, and returns a Client for it.
func ClientFromURL(ctx context.Context, rawURL string) (*Client, error) {
	conn, err := ConnectionFromURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// Connection returns the connection descriptor the client operates on.
func (c *Client) Connection() *Connection { return c.conn }

// HTTPClient exposes the underlying HTTP client so collaborators addressing
// the same instance (e.g. the document loader) can reuse its connections.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// Query executes an XQuery expression, scoped to the configured root
// collection, and returns the root of the parsed result document (eXist's
// result element wrapping all matches). A server-reported XQuery compile or
// runtime failure surfaces as *QueryError, any other non-2xx response as
// *ReadError.
func (c *Client) Query(ctx context.Context, expression string) (*etree.Element, error) {
	payload, err := queryEnvelope(expression)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conn.RootCollectionURL(),
		strings.NewReader(payload))
	if err != nil {
		return nil, &ReadError{Op: "query", Err: err}
	}
	req.Header.Set("Content-Type", "application/xml")
	c.authorize(req)

	slog.Debug("Executing XQuery", "url", req.URL.String())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ReadError{Op: "query", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ReadError{Op: "query", Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusBadRequest {
		return nil, parseQueryError(body, payload, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ReadError{Op: "query", Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected response: %s", resp.Status)}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, &ReadError{Op: "query", Status: resp.StatusCode,
			Err: fmt.Errorf("failed to parse result: %w", err)}
	}
	root := doc.Root()
	if root == nil {
		return nil, &ReadError{Op: "query", Status: resp.StatusCode,
			Err: fmt.Errorf("empty result document")}
	}
	return root, nil
}

// XPath retrieves every node matching expression as a NodeResource, in
// document order. Each match comes back wrapped in an element in
// ResultNamespace carrying the addressing attributes; the wrapper's single
// element child is detached and owned by the returned handle.
func (c *Client) XPath(ctx context.Context, expression string) ([]*NodeResource, error) {
	root, err := c.Query(ctx, xpathQuery(expression))
	if err != nil {
		return nil, err
	}
	if root.Tag != "result" || root.NamespaceURI() != ExistNamespace {
		return nil, &ReadError{Op: "xpath",
			Err: fmt.Errorf("unexpected result root element <%s>", root.FullTag())}
	}

	var resources []*NodeResource
	for _, wrapper := range root.ChildElements() {
		if wrapper.Tag != "result" || wrapper.NamespaceURI() != ResultNamespace {
			continue
		}
		item, err := unwrapResultItem(wrapper)
		if err != nil {
			return nil, err
		}
		resources = append(resources, newNodeResource(c, item))
	}
	return resources, nil
}

// unwrapResultItem reads the addressing attributes off a wrapper element and
// detaches its element child, which the caller owns afterwards.
func unwrapResultItem(wrapper *etree.Element) (QueryResultItem, error) {
	var item QueryResultItem
	for _, attr := range wrapper.Attr {
		if attr.NamespaceURI() != ResultNamespace {
			continue
		}
		switch attr.Key {
		case "absid":
			item.DocumentID = attr.Value
		case "nodeid":
			item.NodeID = attr.Value
		case "path":
			item.DocumentPath = attr.Value
		}
	}

	children := wrapper.ChildElements()
	if len(children) == 0 {
		return item, &ReadError{Op: "xpath",
			Err: fmt.Errorf("result wrapper for node %s/%s has no element content",
				item.DocumentID, item.NodeID)}
	}
	node := children[0]
	wrapper.RemoveChild(node)
	item.Node = node
	return item, nil
}

// FetchNode retrieves a single node by its database-internal ids and returns
// a handle for it. An empty nodeID addresses the document's root node. A
// second query resolves the containing document's path.
func (c *Client) FetchNode(ctx context.Context, documentID, nodeID string) (*NodeResource, error) {
	root, err := c.Query(ctx, retrieveNodeQuery(documentID, nodeID))
	if err != nil {
		return nil, err
	}
	children := root.ChildElements()
	if len(children) == 0 {
		return nil, &ReadError{Op: "fetch node", Err: ErrNotFound}
	}
	node := children[0]
	root.RemoveChild(node)

	path, err := c.documentPath(ctx, documentID)
	if err != nil {
		return nil, err
	}

	return newNodeResource(c, QueryResultItem{
		DocumentID:   documentID,
		NodeID:       nodeID,
		DocumentPath: path,
		Node:         node,
	}), nil
}

// documentPath resolves the collection path and name of the document
// addressed by documentID.
func (c *Client) documentPath(ctx context.Context, documentID string) (string, error) {
	root, err := c.Query(ctx, documentPathQuery(documentID))
	if err != nil {
		return "", err
	}
	for _, child := range root.ChildElements() {
		if child.Tag == "value" && child.NamespaceURI() == ExistNamespace {
			return child.Text(), nil
		}
	}
	return "", &ReadError{Op: "resolve document path",
		Err: fmt.Errorf("no value in result for resource %s", documentID)}
}

// UpdateNode replaces the addressed remote node with the serialized form of
// node. The payload must be well-formed XML; a malformed one is rejected by
// the server as a *QueryError.
func (c *Client) UpdateNode(ctx context.Context, documentID, nodeID string, node *etree.Element) error {
	payload, err := serializeNode(node)
	if err != nil {
		return err
	}
	_, err = c.Query(ctx, replaceNodeQuery(documentID, nodeID, payload))
	return err
}

// DeleteNode removes the addressed node from its document. An empty nodeID
// addresses the document's root node.
func (c *Client) DeleteNode(ctx context.Context, documentID, nodeID string) error {
	_, err := c.Query(ctx, deleteNodeQuery(documentID, nodeID))
	return err
}

// DeleteDocument removes the document at path, relative to the root
// collection. A missing document yields a *ReadError wrapping ErrNotFound,
// any other failure a *WriteError.
func (c *Client) DeleteDocument(ctx context.Context, path string) error {
	target := c.conn.RootCollectionURL() + "/" + ManglePath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return &WriteError{Op: "delete document", Err: err}
	}
	c.authorize(req)

	slog.Debug("Deleting document", "url", target)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &WriteError{Op: "delete document", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &ReadError{Op: "delete document", Status: resp.StatusCode,
			Err: fmt.Errorf("document %q: %w", path, ErrNotFound)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &WriteError{Op: "delete document", Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected response: %s", resp.Status)}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.conn.user != "" || c.conn.password != "" {
		req.SetBasicAuth(c.conn.user, c.conn.password)
	}
}

// serializeNode renders a copy of node as a standalone XML string.
func serializeNode(node *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(node.Copy())
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to serialize node: %w", err)
	}
	return strings.TrimSuffix(s, "\n"), nil
}
