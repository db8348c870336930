// Package cache provides a namespaced TTL cache for pipeline lookups such as
// resolved citations, CrossRef searches, workflow status snapshots, model
// responses, and readability analyses.
//
// The facade degrades rather than fails: a backend error is logged and
// surfaces as a cache miss, never as an error to the caller. The pipeline
// must produce the same results with or without a working cache, only slower.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Namespace groups cache entries that share a lifecycle.
type Namespace string

const (
	NamespaceCitation       Namespace = "citation"
	NamespaceCrossRefSearch Namespace = "crossref_search"
	NamespaceWorkflowStatus Namespace = "workflow_status"
	NamespaceLLMResponse    Namespace = "llm_response"
	NamespaceReadability    Namespace = "readability"
)

// TTL returns the retention period for entries in the namespace. Resolved
// citations are stable and keep for a day; status snapshots go stale fast.
func (n Namespace) TTL() time.Duration {
	switch n {
	case NamespaceCitation:
		return 24 * time.Hour
	case NamespaceCrossRefSearch:
		return time.Hour
	case NamespaceWorkflowStatus:
		return 5 * time.Minute
	case NamespaceLLMResponse:
		return 2 * time.Hour
	case NamespaceReadability:
		return time.Hour
	default:
		return time.Hour
	}
}

// Backend is a raw byte store with TTL support.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// DeletePattern removes keys matching a redis-style glob, where *
	// matches any run of characters. Returns the number removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	Len(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// Stats describes the cache for the health surface.
type Stats struct {
	Backend   string `json:"backend"`
	TotalKeys int64  `json:"total_keys"`
	Healthy   bool   `json:"healthy"`
}

// Cache is the namespaced facade over a Backend.
type Cache struct {
	backend Backend
	prefix  string
	logger  *slog.Logger

	// onLookup, when set, observes every Get outcome. Used to feed metrics.
	onLookup func(hit bool)
}

// New wraps a backend. Keys are built as "<prefix>:<namespace>:<identifier>".
func New(backend Backend, prefix string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, prefix: prefix, logger: logger}
}

// OnLookup registers an observer called with every Get outcome.
func (c *Cache) OnLookup(fn func(hit bool)) {
	c.onLookup = fn
}

// Key builds the storage key for a namespace and identifier.
func (c *Cache) Key(ns Namespace, id string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, ns, id)
}

// Get loads and unmarshals an entry into dest. Returns false on miss, on
// expiry, and on any backend or decode error.
func (c *Cache) Get(ctx context.Context, ns Namespace, id string, dest any) bool {
	hit := c.get(ctx, ns, id, dest)
	if c.onLookup != nil {
		c.onLookup(hit)
	}
	return hit
}

func (c *Cache) get(ctx context.Context, ns Namespace, id string, dest any) bool {
	key := c.Key(ns, id)
	raw, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("cache entry undecodable, evicting", "key", key, "error", err)
		_ = c.backend.Delete(ctx, key)
		return false
	}
	return true
}

// Set marshals and stores an entry under the namespace TTL. Failures are
// logged and swallowed.
func (c *Cache) Set(ctx context.Context, ns Namespace, id string, value any) {
	key := c.Key(ns, id)
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value unmarshalable", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, raw, ns.TTL()); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Delete removes an entry.
func (c *Cache) Delete(ctx context.Context, ns Namespace, id string) {
	key := c.Key(ns, id)
	if err := c.backend.Delete(ctx, key); err != nil {
		c.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}

// Exists reports whether an entry is present without decoding it.
func (c *Cache) Exists(ctx context.Context, ns Namespace, id string) bool {
	ok, err := c.backend.Exists(ctx, c.Key(ns, id))
	if err != nil {
		c.logger.Warn("cache exists failed", "namespace", ns, "error", err)
		return false
	}
	return ok
}

// ClearUser removes every entry whose key mentions the user identifier, in
// any namespace. Returns the number of entries removed.
func (c *Cache) ClearUser(ctx context.Context, userID string) int {
	if userID == "" {
		return 0
	}
	n, err := c.backend.DeletePattern(ctx, fmt.Sprintf("%s:*%s*", c.prefix, userID))
	if err != nil {
		c.logger.Warn("cache clear failed", "user_id", userID, "error", err)
		return 0
	}
	return n
}

// Stats reports the backend name, key count, and reachability.
func (c *Cache) Stats(ctx context.Context) Stats {
	st := Stats{Backend: c.backend.Name()}
	if err := c.backend.Ping(ctx); err != nil {
		return st
	}
	st.Healthy = true
	n, err := c.backend.Len(ctx)
	if err != nil {
		c.logger.Warn("cache stats failed", "error", err)
		return st
	}
	st.TotalKeys = n
	return st
}

// Health returns nil when the backend is reachable.
func (c *Cache) Health(ctx context.Context) error {
	if err := c.backend.Ping(ctx); err != nil {
		return fmt.Errorf("cache backend %s: %w", c.backend.Name(), err)
	}
	return nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}
