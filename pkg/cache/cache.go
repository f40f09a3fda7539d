// Package cache is the content-addressed response cache consulted before
// dispatch. Keys are deterministic hashes of (provider, operation, params);
// entries expire by TTL only. The cache is an optimization: correctness
// never depends on it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/prospectly/server/pkg/types"
)

// Cache stores normalized responses under deterministic keys.
type Cache interface {
	Get(ctx context.Context, key string) (*types.Response, bool)
	Put(ctx context.Context, key string, resp *types.Response, ttl time.Duration)
}

// Key builds the deterministic cache key. Params are canonicalized by JSON
// encoding (object keys sort lexically under encoding/json). tenantID is
// empty unless the provider's responses are gated by the calling key.
func Key(providerID string, op types.Operation, params map[string]interface{}, tenantID string) string {
	canonical, _ := json.Marshal(struct {
		Provider  string                 `json:"provider"`
		Operation types.Operation        `json:"operation"`
		Params    map[string]interface{} `json:"params"`
		Tenant    string                 `json:"tenant,omitempty"`
	}{providerID, op, params, tenantID})
	sum := sha256.Sum256(canonical)
	return "enrich:" + providerID + ":" + hex.EncodeToString(sum[:16])
}

// TTLFor returns the default TTL for an operation's responses.
func TTLFor(op types.Operation) time.Duration {
	switch op {
	case types.OpFindEmail, types.OpEnrichCompany:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

type memoryEntry struct {
	resp      *types.Response
	expiresAt time.Time
}

// Memory is the in-process cache backend. A janitor goroutine sweeps expired
// entries; Get also checks expiry so a sweep is never load-bearing.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

// NewMemory creates an in-process cache and starts its janitor.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Get returns the cached response for key, or false on miss or expiry.
func (m *Memory) Get(_ context.Context, key string) (*types.Response, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	// Shallow copy so callers can stamp fresh metadata without mutating the
	// cached value.
	resp := *e.resp
	return &resp, true
}

// Put stores resp under key for ttl.
func (m *Memory) Put(_ context.Context, key string, resp *types.Response, ttl time.Duration) {
	if resp == nil || ttl <= 0 {
		return
	}
	cp := *resp
	m.mu.Lock()
	m.entries[key] = memoryEntry{resp: &cp, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

// Close stops the janitor.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.done) })
}
