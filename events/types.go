// Package events provides the per-document event model and the in-process
// pub/sub bus that fans workflow activity out to WebSocket subscribers.
//
// Events marshal to a flat JSON object: the header contributes "type",
// "document_id" and "timestamp", and each concrete event contributes its own
// fields alongside them.
package events

import "time"

// Kind identifies an event type on the wire.
type Kind string

const (
	KindConnectionEstablished Kind = "connection_established"
	KindWorkflowStatus        Kind = "workflow_status_update"
	KindNodeStatus            Kind = "node_status_update"
	KindContentUpdate         Kind = "content_update"
	KindMetricsUpdate         Kind = "metrics_update"
	KindError                 Kind = "error"
	KindPong                  Kind = "pong"
)

// Event is implemented by every published event.
type Event interface {
	EventKind() Kind
	EventDocument() string
}

// Header carries the fields common to all events.
type Header struct {
	Type       Kind      `json:"type"`
	DocumentID string    `json:"document_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventKind returns the event type.
func (h Header) EventKind() Kind { return h.Type }

// EventDocument returns the document the event belongs to.
func (h Header) EventDocument() string { return h.DocumentID }

// NewHeader stamps a header with the current UTC time.
func NewHeader(kind Kind, documentID string) Header {
	return Header{Type: kind, DocumentID: documentID, Timestamp: time.Now().UTC()}
}

// NodeSummary is the subscriber-facing view of a workflow node.
type NodeSummary struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Content    string `json:"content,omitempty"`
	RetryCount int    `json:"retry_count"`
	CreatedAt  string `json:"created_at"`
}

// MetricsSummary is the subscriber-facing view of node metrics.
type MetricsSummary struct {
	ReadabilityScore *float64 `json:"readability_score,omitempty"`
	GrammarErrors    *int     `json:"grammar_errors,omitempty"`
	CitationCount    *int     `json:"citation_count,omitempty"`
	WordCount        int      `json:"word_count"`
	TokenUsage       int      `json:"token_usage"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
}

// ConnectionEstablished is sent once to a new subscriber.
type ConnectionEstablished struct {
	Header
	ConnectionID string `json:"connection_id"`
}

// WorkflowStatus reports a document status transition.
type WorkflowStatus struct {
	Header
	Status      string       `json:"status"`
	Progress    float64      `json:"progress"`
	CurrentNode *NodeSummary `json:"current_node,omitempty"`
}

// NodeStatus reports a node lifecycle change.
type NodeStatus struct {
	Header
	Node NodeSummary `json:"node"`
}

// ContentUpdate carries a document artifact to subscribers. Preview content
// comes from a stage still subject to downstream gates.
type ContentUpdate struct {
	Header
	Content string `json:"content"`
	Preview bool   `json:"preview"`
	NodeID  string `json:"node_id,omitempty"`
}

// MetricsUpdate reports a node's metrics.
type MetricsUpdate struct {
	Header
	NodeID  string         `json:"node_id,omitempty"`
	Metrics MetricsSummary `json:"metrics"`
}

// Error reports a workflow error to subscribers.
type Error struct {
	Header
	Error    string `json:"error"`
	NodeType string `json:"node_type,omitempty"`
}

// Pong answers a client ping.
type Pong struct {
	Header
}

// NewConnectionEstablished builds the greeting event for a subscription.
func NewConnectionEstablished(documentID, connectionID string) ConnectionEstablished {
	return ConnectionEstablished{
		Header:       NewHeader(KindConnectionEstablished, documentID),
		ConnectionID: connectionID,
	}
}

// NewWorkflowStatus builds a workflow status event.
func NewWorkflowStatus(documentID, status string, progress float64, current *NodeSummary) WorkflowStatus {
	return WorkflowStatus{
		Header:      NewHeader(KindWorkflowStatus, documentID),
		Status:      status,
		Progress:    progress,
		CurrentNode: current,
	}
}

// NewNodeStatus builds a node status event.
func NewNodeStatus(documentID string, node NodeSummary) NodeStatus {
	return NodeStatus{
		Header: NewHeader(KindNodeStatus, documentID),
		Node:   node,
	}
}

// NewContentUpdate builds a content event.
func NewContentUpdate(documentID, content string, preview bool, nodeID string) ContentUpdate {
	return ContentUpdate{
		Header:  NewHeader(KindContentUpdate, documentID),
		Content: content,
		Preview: preview,
		NodeID:  nodeID,
	}
}

// NewMetricsUpdate builds a metrics event.
func NewMetricsUpdate(documentID, nodeID string, metrics MetricsSummary) MetricsUpdate {
	return MetricsUpdate{
		Header:  NewHeader(KindMetricsUpdate, documentID),
		NodeID:  nodeID,
		Metrics: metrics,
	}
}

// NewError builds an error event.
func NewError(documentID, message, nodeType string) Error {
	return Error{
		Header:   NewHeader(KindError, documentID),
		Error:    message,
		NodeType: nodeType,
	}
}

// NewPong builds a heartbeat reply.
func NewPong(documentID string) Pong {
	return Pong{Header: NewHeader(KindPong, documentID)}
}
