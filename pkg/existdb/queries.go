package existdb

import (
	"fmt"

	"github.com/beevik/etree"
)

const (
	// ExistNamespace is the namespace eXist-db uses for its REST envelopes.
	ExistNamespace = "http://exist.sourceforge.net/NS/exist"

	// ResultNamespace is reserved for the wrapper elements this library
	// injects around XPath matches so they can be told apart from arbitrary
	// result content.
	ResultNamespace = "https://exigo.invalid/ns"

	resultPrefix = "exigo"
)

// retrieveNodeQuery resolves a document by its absolute resource id and a
// node within it by its structural node id.
func retrieveNodeQuery(documentID, nodeID string) string {
	return fmt.Sprintf(
		`util:node-by-id(util:get-resource-by-absolute-id(%s), "%s")`,
		documentID, nodeID,
	)
}

// deleteNodeQuery removes the addressed node from its document.
func deleteNodeQuery(documentID, nodeID string) string {
	return fmt.Sprintf(
		`let $node := util:node-by-id(util:get-resource-by-absolute-id(%s), "%s")`+
			` return update delete $node`,
		documentID, nodeID,
	)
}

// replaceNodeQuery swaps the addressed node for the serialized payload. The
// payload is substituted verbatim; a malformed one is rejected by the server,
// not here.
func replaceNodeQuery(documentID, nodeID, payload string) string {
	return fmt.Sprintf(
		`update replace util:node-by-id(util:get-resource-by-absolute-id(%s), "%s") with %s`,
		documentID, nodeID, payload,
	)
}

// documentPathQuery yields the collection path and name of the document
// addressed by an absolute resource id.
func documentPathQuery(documentID string) string {
	return fmt.Sprintf(
		`let $node := util:get-resource-by-absolute-id(%s)`+
			` return util:collection-name($node) || "/" || util:document-name($node)`,
		documentID,
	)
}

// xpathQuery wraps every node matched by expression in a result element
// carrying the node's addressing attributes, all in ResultNamespace.
func xpathQuery(expression string) string {
	return fmt.Sprintf(
		`for $node in %s return`+"\n"+
			`<%[2]s:result xmlns:%[2]s="%[3]s"`+"\n"+
			`  %[2]s:nodeid="{util:node-id($node)}"`+"\n"+
			`  %[2]s:absid="{util:absolute-resource-id($node)}"`+"\n"+
			`  %[2]s:path="{util:collection-name($node) || "/" || util:document-name($node)}"`+"\n"+
			`>{$node}</%[2]s:result>`,
		expression, resultPrefix, ResultNamespace,
	)
}

// queryEnvelope builds the XML request document eXist's REST interface
// accepts for XQuery execution. The expression goes into a CDATA section so
// its special characters need no escaping, and the result-shaping properties
// disable pretty-printing and wrap multiple results in one root element.
func queryEnvelope(expression string) (string, error) {
	doc := etree.NewDocument()
	query := doc.CreateElement("query")
	query.CreateAttr("xmlns", ExistNamespace)
	query.CreateAttr("start", "1")
	query.CreateAttr("max", "0")
	query.CreateAttr("cache", "no")

	text := query.CreateElement("text")
	text.CreateCData(expression)

	properties := query.CreateElement("properties")
	indent := properties.CreateElement("property")
	indent.CreateAttr("name", "indent")
	indent.CreateAttr("value", "no")
	wrap := properties.CreateElement("property")
	wrap.CreateAttr("name", "wrap")
	wrap.CreateAttr("value", "yes")

	payload, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to serialize query envelope: %w", err)
	}
	return payload, nil
}
