package workflow

import "context"

// Store persists documents, nodes, and node metrics. Backends must return
// ErrNotFound for missing entities so callers can map it to their own
// not-found handling with errors.Is.
//
// Node histories are append-only: UpdateNode changes the status and content
// of an existing node in place, but nodes are never deleted. ListNodes
// returns nodes in CreatedAt order, which for a single document matches the
// causal stage order.
type Store interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	UpdateDocument(ctx context.Context, doc *Document) error
	ListDocuments(ctx context.Context, userID string) ([]*Document, error)

	CreateNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, documentID, nodeID string) (*Node, error)
	UpdateNode(ctx context.Context, node *Node) error
	ListNodes(ctx context.Context, documentID string) ([]*Node, error)

	PutMetrics(ctx context.Context, m *NodeMetrics) error
	GetMetrics(ctx context.Context, nodeID string) (*NodeMetrics, error)
}
