// Package storage provides the persistence backends for workflow documents,
// nodes, and node metrics: NATS JetStream KV when a broker is configured,
// and an in-process store for tests and broker-less runs. Both implement
// workflow.Store.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/c360studio/draftloop/workflow"
)

// MemoryStore is an in-process workflow.Store. Entities are copied on the
// way in and out so callers never share memory with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]workflow.Document
	nodes     map[string][]workflow.Node // keyed by document ID, append order
	metrics   map[string]workflow.NodeMetrics
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]workflow.Document),
		nodes:     make(map[string][]workflow.Node),
		metrics:   make(map[string]workflow.NodeMetrics),
	}
}

// CreateDocument stores a new document.
func (s *MemoryStore) CreateDocument(_ context.Context, doc *workflow.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = *doc
	return nil
}

// GetDocument retrieves a document by ID.
func (s *MemoryStore) GetDocument(_ context.Context, id string) (*workflow.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	copied := doc
	return &copied, nil
}

// UpdateDocument replaces a stored document.
func (s *MemoryStore) UpdateDocument(_ context.Context, doc *workflow.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; !ok {
		return workflow.ErrNotFound
	}
	s.documents[doc.ID] = *doc
	return nil
}

// ListDocuments returns the user's documents ordered by creation time.
func (s *MemoryStore) ListDocuments(_ context.Context, userID string) ([]*workflow.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Document
	for _, doc := range s.documents {
		if doc.UserID == userID {
			copied := doc
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateNode appends a node to its document's history.
func (s *MemoryStore) CreateNode(_ context.Context, node *workflow.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.DocumentID] = append(s.nodes[node.DocumentID], *node)
	return nil
}

// GetNode retrieves a node by document and node ID.
func (s *MemoryStore) GetNode(_ context.Context, documentID, nodeID string) (*workflow.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes[documentID] {
		if n.ID == nodeID {
			copied := n
			return &copied, nil
		}
	}
	return nil, workflow.ErrNotFound
}

// UpdateNode replaces a stored node in place.
func (s *MemoryStore) UpdateNode(_ context.Context, node *workflow.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.nodes[node.DocumentID]
	for i, n := range nodes {
		if n.ID == node.ID {
			nodes[i] = *node
			return nil
		}
	}
	return workflow.ErrNotFound
}

// ListNodes returns a document's nodes ordered by creation time.
func (s *MemoryStore) ListNodes(_ context.Context, documentID string) ([]*workflow.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := s.nodes[documentID]
	out := make([]*workflow.Node, 0, len(nodes))
	for _, n := range nodes {
		copied := n
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PutMetrics stores a node's metrics, replacing any previous record.
func (s *MemoryStore) PutMetrics(_ context.Context, m *workflow.NodeMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.NodeID] = *m
	return nil
}

// GetMetrics retrieves a node's metrics.
func (s *MemoryStore) GetMetrics(_ context.Context, nodeID string) (*workflow.NodeMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[nodeID]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	copied := m
	return &copied, nil
}
