// Package existtest provides an in-memory stand-in for an eXist-db
// instance's REST interface, good enough to exercise the query shapes the
// client emits: document CRUD over GET/PUT/HEAD/DELETE plus a minimal
// interpreter for the XQuery templates used for node addressing.
package existtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/beevik/etree"
)

const existNamespace = "http://exist.sourceforge.net/NS/exist"

// Server is a fake eXist-db instance backed by an httptest server. All
// documents live in memory, keyed by their path below the REST root.
type Server struct {
	*httptest.Server

	// Prefix is the simulated instance path prefix, e.g. "exist".
	Prefix string

	// Username/Password, when set, are enforced on every request.
	Username string
	Password string

	// QueryFunc, when set, overrides the built-in query interpreter. It
	// receives the XQuery text and returns the HTTP status and body.
	QueryFunc func(query string) (int, string)

	mu     sync.Mutex
	order  []string
	docs   map[string]*etree.Document
	docIDs map[string]int
	nextID int
}

// New starts a fake instance with the prefix "exist".
func New() *Server {
	s := newServer()
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// NewTLS starts a fake instance with the prefix "exist" behind TLS. Requests
// must use the server's Client, which trusts its certificate.
func NewTLS() *Server {
	s := newServer()
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.handle))
	return s
}

func newServer() *Server {
	return &Server{
		Prefix: "exist",
		docs:   make(map[string]*etree.Document),
		docIDs: make(map[string]int),
		nextID: 1,
	}
}

// Put stores a document directly, bypassing HTTP.
func (s *Server) Put(path, content string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(content); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(path, doc)
	return nil
}

// Get returns the serialized document at path, or "" if absent.
func (s *Server) Get(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		return ""
	}
	out, _ := doc.WriteToString()
	return out
}

// Has reports whether a document exists at path.
func (s *Server) Has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[path]
	return ok
}

func (s *Server) store(path string, doc *etree.Document) {
	if _, ok := s.docs[path]; !ok {
		s.order = append(s.order, path)
		s.docIDs[path] = s.nextID
		s.nextID++
	}
	s.docs[path] = doc
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.Username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	restRoot := "/" + s.Prefix + "/rest"
	if !strings.HasPrefix(r.URL.Path, restRoot) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "<html><body>not here</body></html>")
		return
	}
	docPath := strings.Trim(strings.TrimPrefix(r.URL.Path, restRoot), "/")

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.serveDocument(w, r, docPath)
	case http.MethodPost:
		s.serveQuery(w, r)
	case http.MethodPut:
		s.servePut(w, r, docPath)
	case http.MethodDelete:
		s.serveDelete(w, docPath)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveDocument(w http.ResponseWriter, r *http.Request, docPath string) {
	if docPath == "" {
		// Collection listing: the probe only inspects the envelope root.
		writeXML(w, http.StatusOK, `<exist:result xmlns:exist="`+existNamespace+`"/>`)
		return
	}
	s.mu.Lock()
	doc, ok := s.docs[docPath]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		return
	}
	out, _ := doc.WriteToString()
	writeXML(w, http.StatusOK, out)
}

func (s *Server) servePut(w http.ResponseWriter, r *http.Request, docPath string) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r.Body); err != nil {
		writeXML(w, http.StatusBadRequest, exceptionBody("/db", "invalid XML: "+err.Error()))
		return
	}
	s.mu.Lock()
	s.store(docPath, doc)
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) serveDelete(w http.ResponseWriter, docPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docPath]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(s.docs, docPath)
	delete(s.docIDs, docPath)
	for i, p := range s.order {
		if p == docPath {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request) {
	envelope := etree.NewDocument()
	if _, err := envelope.ReadFrom(r.Body); err != nil {
		writeXML(w, http.StatusBadRequest, exceptionBody("/db", "invalid query envelope"))
		return
	}
	text := envelope.FindElement("//text")
	if text == nil {
		writeXML(w, http.StatusBadRequest, exceptionBody("/db", "missing query text"))
		return
	}
	query := strings.TrimSpace(text.Text())

	if s.QueryFunc != nil {
		status, body := s.QueryFunc(query)
		writeXML(w, status, body)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	status, body := s.evaluate(query)
	writeXML(w, status, body)
}

var (
	xpathRe   = regexp.MustCompile(`(?s)^for \$node in (.+) return\n<`)
	fetchRe   = regexp.MustCompile(`^util:node-by-id\(util:get-resource-by-absolute-id\((\d+)\), "([^"]*)"\)$`)
	pathRe    = regexp.MustCompile(`^let \$node := util:get-resource-by-absolute-id\((\d+)\) return util:collection-name`)
	replaceRe = regexp.MustCompile(`(?s)^update replace util:node-by-id\(util:get-resource-by-absolute-id\((\d+)\), "([^"]*)"\) with (.+)$`)
	deleteRe  = regexp.MustCompile(`^let \$node := util:node-by-id\(util:get-resource-by-absolute-id\((\d+)\), "([^"]*)"\) return update delete \$node$`)
)

// evaluate interprets the handful of query shapes the client produces.
// Anything else is answered like eXist answers a failed compilation.
func (s *Server) evaluate(query string) (int, string) {
	switch {
	case xpathRe.MatchString(query):
		return s.evalXPath(xpathRe.FindStringSubmatch(query)[1])
	case fetchRe.MatchString(query):
		m := fetchRe.FindStringSubmatch(query)
		return s.evalFetch(m[1], m[2])
	case pathRe.MatchString(query):
		return s.evalDocumentPath(pathRe.FindStringSubmatch(query)[1])
	case replaceRe.MatchString(query):
		m := replaceRe.FindStringSubmatch(query)
		return s.evalReplace(m[1], m[2], m[3])
	case deleteRe.MatchString(query):
		m := deleteRe.FindStringSubmatch(query)
		return s.evalDelete(m[1], m[2])
	default:
		return http.StatusBadRequest, exceptionBody("/db", fmt.Sprintf("cannot compile query: %q", query))
	}
}

func (s *Server) evalXPath(expr string) (int, string) {
	result := resultEnvelope()
	root := result.Root()
	for _, docPath := range s.order {
		doc := s.docs[docPath]
		for _, node := range doc.FindElements(expr) {
			wrapper := root.CreateElement("x:result")
			wrapper.CreateAttr("xmlns:x", "https://exigo.invalid/ns")
			wrapper.CreateAttr("x:nodeid", nodeID(node))
			wrapper.CreateAttr("x:absid", strconv.Itoa(s.docIDs[docPath]))
			wrapper.CreateAttr("x:path", "/db/"+docPath)
			wrapper.AddChild(node.Copy())
		}
	}
	out, _ := result.WriteToString()
	return http.StatusOK, out
}

func (s *Server) evalFetch(absID, nodeIDStr string) (int, string) {
	node, _, ok := s.resolve(absID, nodeIDStr)
	if !ok {
		return http.StatusOK, emptyResult()
	}
	result := resultEnvelope()
	result.Root().AddChild(node.Copy())
	out, _ := result.WriteToString()
	return http.StatusOK, out
}

func (s *Server) evalDocumentPath(absID string) (int, string) {
	docPath, ok := s.pathByID(absID)
	if !ok {
		return http.StatusOK, emptyResult()
	}
	result := resultEnvelope()
	value := result.Root().CreateElement("exist:value")
	value.CreateAttr("type", "xs:string")
	value.SetText("/db/" + docPath)
	out, _ := result.WriteToString()
	return http.StatusOK, out
}

func (s *Server) evalReplace(absID, nodeIDStr, payload string) (int, string) {
	replacement := etree.NewDocument()
	if err := replacement.ReadFromString(payload); err != nil {
		return http.StatusBadRequest, exceptionBody("/db", "replacement is not well-formed: "+err.Error())
	}
	node, doc, ok := s.resolve(absID, nodeIDStr)
	if !ok {
		return http.StatusOK, emptyResult()
	}
	if parent := node.Parent(); parent != nil {
		parent.InsertChildAt(node.Index(), replacement.Root().Copy())
		parent.RemoveChild(node)
	} else {
		doc.SetRoot(replacement.Root().Copy())
	}
	return http.StatusOK, emptyResult()
}

func (s *Server) evalDelete(absID, nodeIDStr string) (int, string) {
	node, _, ok := s.resolve(absID, nodeIDStr)
	if !ok {
		return http.StatusOK, emptyResult()
	}
	if parent := node.Parent(); parent != nil {
		parent.RemoveChild(node)
	}
	return http.StatusOK, emptyResult()
}

func (s *Server) pathByID(absID string) (string, bool) {
	id, err := strconv.Atoi(absID)
	if err != nil {
		return "", false
	}
	for p, docID := range s.docIDs {
		if docID == id {
			return p, true
		}
	}
	return "", false
}

func (s *Server) resolve(absID, nodeIDStr string) (*etree.Element, *etree.Document, bool) {
	docPath, ok := s.pathByID(absID)
	if !ok {
		return nil, nil, false
	}
	doc := s.docs[docPath]
	node := nodeByID(doc, nodeIDStr)
	if node == nil {
		return nil, nil, false
	}
	return node, doc, true
}

// nodeID derives a structural id for el: 1-based element indexes from the
// document root, dot-separated. The root itself has the empty id.
func nodeID(el *etree.Element) string {
	var parts []string
	for el.Parent() != nil && el.Parent().Parent() != nil {
		index := 1
		for _, sibling := range el.Parent().ChildElements() {
			if sibling == el {
				break
			}
			index++
		}
		parts = append([]string{strconv.Itoa(index)}, parts...)
		el = el.Parent()
	}
	return strings.Join(parts, ".")
}

// nodeByID resolves a structural id produced by nodeID.
func nodeByID(doc *etree.Document, id string) *etree.Element {
	node := doc.Root()
	if node == nil {
		return nil
	}
	if id == "" {
		return node
	}
	for _, part := range strings.Split(id, ".") {
		index, err := strconv.Atoi(part)
		if err != nil {
			return nil
		}
		children := node.ChildElements()
		if index < 1 || index > len(children) {
			return nil
		}
		node = children[index-1]
	}
	return node
}

func resultEnvelope() *etree.Document {
	doc := etree.NewDocument()
	root := doc.CreateElement("exist:result")
	root.CreateAttr("xmlns:exist", existNamespace)
	return doc
}

func emptyResult() string {
	out, _ := resultEnvelope().WriteToString()
	return out
}

func exceptionBody(path, message string) string {
	doc := etree.NewDocument()
	root := doc.CreateElement("exception")
	root.CreateElement("path").SetText(path)
	root.CreateElement("message").SetText(message)
	out, _ := doc.WriteToString()
	return out
}

func writeXML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}
