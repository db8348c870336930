package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/draftloop/workflow"
)

// Bucket names for each entity type.
const (
	BucketDocuments = "DRAFTLOOP_DOCUMENTS"
	BucketNodes     = "DRAFTLOOP_NODES"
	BucketMetrics   = "DRAFTLOOP_NODE_METRICS"
)

// KVStore is a workflow.Store backed by NATS JetStream KV buckets. Nodes
// are keyed "<documentID>.<nodeID>" so a document's history is one prefix
// scan.
type KVStore struct {
	documents jetstream.KeyValue
	nodes     jetstream.KeyValue
	metrics   jetstream.KeyValue
}

// NewKVStore creates a KVStore, creating the buckets if they don't exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	documents, err := getOrCreateBucket(ctx, js, BucketDocuments)
	if err != nil {
		return nil, fmt.Errorf("create documents bucket: %w", err)
	}

	nodes, err := getOrCreateBucket(ctx, js, BucketNodes)
	if err != nil {
		return nil, fmt.Errorf("create nodes bucket: %w", err)
	}

	metrics, err := getOrCreateBucket(ctx, js, BucketMetrics)
	if err != nil {
		return nil, fmt.Errorf("create metrics bucket: %w", err)
	}

	return &KVStore{
		documents: documents,
		nodes:     nodes,
		metrics:   metrics,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Draftloop %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// CreateDocument stores a new document.
func (s *KVStore) CreateDocument(ctx context.Context, doc *workflow.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if _, err := s.documents.Create(ctx, doc.ID, data); err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *KVStore) GetDocument(ctx context.Context, id string) (*workflow.Document, error) {
	entry, err := s.documents.Get(ctx, id)
	if err != nil {
		if isKeyNotFound(err) {
			return nil, workflow.ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	var doc workflow.Document
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}

// UpdateDocument replaces a stored document.
func (s *KVStore) UpdateDocument(ctx context.Context, doc *workflow.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if _, err := s.documents.Put(ctx, doc.ID, data); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// ListDocuments returns the user's documents ordered by creation time.
func (s *KVStore) ListDocuments(ctx context.Context, userID string) ([]*workflow.Document, error) {
	keys, err := s.documents.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list document keys: %w", err)
	}

	out := make([]*workflow.Document, 0, len(keys))
	for _, key := range keys {
		entry, err := s.documents.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var doc workflow.Document
		if err := json.Unmarshal(entry.Value(), &doc); err != nil {
			continue
		}
		if doc.UserID == userID {
			out = append(out, &doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateNode appends a node to its document's history.
func (s *KVStore) CreateNode(ctx context.Context, node *workflow.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}
	if _, err := s.nodes.Create(ctx, nodeKey(node.DocumentID, node.ID), data); err != nil {
		return fmt.Errorf("store node: %w", err)
	}
	return nil
}

// GetNode retrieves a node by document and node ID.
func (s *KVStore) GetNode(ctx context.Context, documentID, nodeID string) (*workflow.Node, error) {
	entry, err := s.nodes.Get(ctx, nodeKey(documentID, nodeID))
	if err != nil {
		if isKeyNotFound(err) {
			return nil, workflow.ErrNotFound
		}
		return nil, fmt.Errorf("get node: %w", err)
	}

	var node workflow.Node
	if err := json.Unmarshal(entry.Value(), &node); err != nil {
		return nil, fmt.Errorf("unmarshal node: %w", err)
	}
	return &node, nil
}

// UpdateNode replaces a stored node in place.
func (s *KVStore) UpdateNode(ctx context.Context, node *workflow.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}
	if _, err := s.nodes.Put(ctx, nodeKey(node.DocumentID, node.ID), data); err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	return nil
}

// ListNodes returns a document's nodes ordered by creation time.
func (s *KVStore) ListNodes(ctx context.Context, documentID string) ([]*workflow.Node, error) {
	keys, err := s.nodes.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list node keys: %w", err)
	}

	prefix := documentID + "."
	out := make([]*workflow.Node, 0)
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := s.nodes.Get(ctx, key)
		if err != nil {
			continue
		}
		var node workflow.Node
		if err := json.Unmarshal(entry.Value(), &node); err != nil {
			continue
		}
		out = append(out, &node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PutMetrics stores a node's metrics, replacing any previous record.
func (s *KVStore) PutMetrics(ctx context.Context, m *workflow.NodeMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if _, err := s.metrics.Put(ctx, m.NodeID, data); err != nil {
		return fmt.Errorf("store metrics: %w", err)
	}
	return nil
}

// GetMetrics retrieves a node's metrics.
func (s *KVStore) GetMetrics(ctx context.Context, nodeID string) (*workflow.NodeMetrics, error) {
	entry, err := s.metrics.Get(ctx, nodeID)
	if err != nil {
		if isKeyNotFound(err) {
			return nil, workflow.ErrNotFound
		}
		return nil, fmt.Errorf("get metrics: %w", err)
	}

	var m workflow.NodeMetrics
	if err := json.Unmarshal(entry.Value(), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return &m, nil
}

func nodeKey(documentID, nodeID string) string {
	return documentID + "." + nodeID
}

// isKeyNotFound checks if an error indicates a key was not found.
func isKeyNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound)
}
