package existdb

import (
	"context"

	"github.com/beevik/etree"
)

// QueryResultItem is one parsed match from a query: the remote identity of
// the node plus a detached copy of the matched subtree, exclusively owned by
// the holder.
type QueryResultItem struct {
	DocumentID   string
	NodeID       string
	DocumentPath string
	Node         *etree.Element
}

// NodeResource pairs a locally held XML node with the ids needed to pull,
// push and delete it remotely. Handles are produced by Client.XPath and
// Client.FetchNode and stay coupled to the client that produced them; the
// id pair means nothing on any other instance.
//
// A handle is bound until Delete is called, which clears its identity;
// pushing or pulling a deleted handle is a programming error and fails.
type NodeResource struct {
	client       *Client
	documentID   string
	nodeID       string
	documentPath string

	// Node is the locally held subtree. It may be mutated freely; edits
	// become visible remotely only after UpdatePush.
	Node *etree.Element
}

func newNodeResource(client *Client, item QueryResultItem) *NodeResource {
	return &NodeResource{
		client:       client,
		documentID:   item.DocumentID,
		nodeID:       item.NodeID,
		documentPath: item.DocumentPath,
		Node:         item.Node,
	}
}

// DocumentID returns the absolute resource id of the containing document.
// It is empty after Delete.
func (r *NodeResource) DocumentID() string { return r.documentID }

// NodeID returns the id locating the node within its document. An empty id
// on a bound handle denotes the document's root node.
func (r *NodeResource) NodeID() string { return r.nodeID }

// DocumentPath returns the collection path and name of the containing
// document.
func (r *NodeResource) DocumentPath() string { return r.documentPath }

// String serializes the locally held node.
func (r *NodeResource) String() string {
	if r.Node == nil {
		return ""
	}
	s, err := serializeNode(r.Node)
	if err != nil {
		return ""
	}
	return s
}

// UpdatePull re-fetches the node from the database and replaces the local
// one, discarding any unpushed local edits.
func (r *NodeResource) UpdatePull(ctx context.Context) error {
	if err := r.ensureBound("pull"); err != nil {
		return err
	}
	fetched, err := r.client.FetchNode(ctx, r.documentID, r.nodeID)
	if err != nil {
		return err
	}
	r.Node = fetched.Node
	return nil
}

// UpdatePush serializes the local node and replaces the remote one. Other
// handles addressing the same ids observe the change on their next pull.
func (r *NodeResource) UpdatePush(ctx context.Context) error {
	if err := r.ensureBound("push"); err != nil {
		return err
	}
	return r.client.UpdateNode(ctx, r.documentID, r.nodeID, r.Node)
}

// Delete removes the node from the database and clears the handle's
// identity. The handle is terminal afterwards.
func (r *NodeResource) Delete(ctx context.Context) error {
	if err := r.ensureBound("delete"); err != nil {
		return err
	}
	if err := r.client.DeleteNode(ctx, r.documentID, r.nodeID); err != nil {
		return err
	}
	r.documentID = ""
	r.nodeID = ""
	return nil
}

func (r *NodeResource) ensureBound(op string) error {
	if r.documentID == "" {
		return &ConfigError{Reason: "cannot " + op + ": resource handle has been deleted"}
	}
	return nil
}
