// Package cache implements the MESI-coherent, LRU-bounded cache tier
// spec.md §4.4 describes. Each node keeps an in-process doubly-linked
// list + map as its LRU structure (the idiomatic Go shape for an
// OrderedDict, since the stdlib has no ordered map), backed by the
// external key-value store as "main memory" and a best-effort
// invalidation broadcast to peers on every write that does not hit a
// line already in E or M.
//
// The read/write/handleInvalidate transition logic and the metrics
// shape follow the original implementation line-for-line; values are
// passed to main memory as raw strings.
package cache

import (
	"container/list"
	"context"
	"sync"

	logging "github.com/op/go-logging"

	"github.com/dionp3/distributed-sync-system/kvstore"
	"github.com/dionp3/distributed-sync-system/logctx"
)

var logger *logging.Logger

func init() {
	logger = logctx.New("cache")
}

// State is a cache line's MESI coherence state.
type State string

const (
	StateInvalid   State = "I"
	StateShared    State = "S"
	StateExclusive State = "E"
	StateModified  State = "M"
)

// Broadcaster fans an invalidation out to every peer, best-effort. A
// transport.Client satisfies this directly; tests substitute a fake.
type Broadcaster interface {
	BroadcastInvalidate(ctx context.Context, key string) error
}

// line is one cache entry plus its position in the LRU list.
type line struct {
	key     string
	value   string
	state   State
	element *list.Element
}

// Metrics mirrors the original's get_metrics() counters, exposed for
// the /metrics scrape and for direct assertions in tests.
type Metrics struct {
	NodeID              string
	Hits                uint64
	Misses              uint64
	InvalidationsSent   uint64
	InvalidationsRecvd  uint64
	Writebacks          uint64
	Size                int
	Capacity            int
}

// Cache is one node's MESI-coherent LRU cache.
type Cache struct {
	mu sync.Mutex

	nodeID   string
	capacity int
	main     kvstore.Store
	peers    Broadcaster

	entries map[string]*line
	order   *list.List // front = most-recently-used

	metrics Metrics
}

// New constructs a Cache of the given capacity, backed by main as main
// memory and peers as the invalidation-broadcast collaborator.
func New(nodeID string, capacity int, main kvstore.Store, peers Broadcaster) *Cache {
	return &Cache{
		nodeID:   nodeID,
		capacity: capacity,
		main:     main,
		peers:    peers,
		entries:  make(map[string]*line),
		order:    list.New(),
		metrics:  Metrics{NodeID: nodeID, Capacity: capacity},
	}
}

// ReadResult is the §6 /cache/read response shape.
type ReadResult struct {
	Status string `json:"status"` // HIT | MISS_FETCHED | MISS_NOT_FOUND
	Value  string `json:"value,omitempty"`
}

// Read implements spec.md §4.4's read operation.
func (c *Cache) Read(ctx context.Context, key string) (ReadResult, error) {
	c.mu.Lock()
	if ln, ok := c.entries[key]; ok && ln.state != StateInvalid {
		c.touchLocked(ln)
		c.metrics.Hits++
		value := ln.value
		c.mu.Unlock()
		return ReadResult{Status: "HIT", Value: value}, nil
	}
	c.metrics.Misses++
	c.mu.Unlock()

	value, ok, err := c.main.Get(ctx, key)
	if err != nil {
		return ReadResult{}, err
	}
	if !ok {
		return ReadResult{Status: "MISS_NOT_FOUND"}, nil
	}

	c.mu.Lock()
	// Always S on a miss-fetch: no code path installs StateExclusive.
	c.installLocked(key, value, StateShared)
	c.mu.Unlock()
	return ReadResult{Status: "MISS_FETCHED", Value: value}, nil
}

// WriteResult is the §6 /cache/write response shape.
type WriteResult struct {
	Status string `json:"status"` // WRITE_HIT_MODIFIED | WRITE_HIT_INVALIDATING | WRITE_MISS_INVALIDATING
}

// Write implements spec.md §4.4's write operation.
func (c *Cache) Write(ctx context.Context, key string, value string) (WriteResult, error) {
	c.mu.Lock()
	ln, present := c.entries[key]
	if present && ln.state != StateInvalid {
		switch ln.state {
		case StateExclusive, StateModified:
			ln.value = value
			ln.state = StateModified
			c.touchLocked(ln)
			c.mu.Unlock()
			return WriteResult{Status: "WRITE_HIT_MODIFIED"}, nil
		case StateShared:
			ln.value = value
			ln.state = StateModified
			c.touchLocked(ln)
			c.mu.Unlock()
			if err := c.broadcastInvalidate(ctx, key); err != nil {
				logger.Warningf("cache %s: invalidate broadcast for %q failed: %v", c.nodeID, key, err)
			}
			return WriteResult{Status: "WRITE_HIT_INVALIDATING"}, nil
		}
	}
	c.mu.Unlock()

	if err := c.main.Set(ctx, key, value); err != nil {
		return WriteResult{}, err
	}
	c.mu.Lock()
	c.installLocked(key, value, StateModified)
	c.mu.Unlock()

	if err := c.broadcastInvalidate(ctx, key); err != nil {
		logger.Warningf("cache %s: invalidate broadcast for %q failed: %v", c.nodeID, key, err)
	}
	return WriteResult{Status: "WRITE_MISS_INVALIDATING"}, nil
}

func (c *Cache) broadcastInvalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	c.metrics.InvalidationsSent++
	c.mu.Unlock()
	if c.peers == nil {
		return nil
	}
	return c.peers.BroadcastInvalidate(ctx, key)
}

// HandleInvalidate implements spec.md §4.4's peer-invoked
// handleInvalidate: write back a modified line, then mark invalid.
func (c *Cache) HandleInvalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	c.metrics.InvalidationsRecvd++
	ln, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	needsWriteback := ln.state == StateModified
	writebackValue := ln.value
	ln.state = StateInvalid
	c.mu.Unlock()

	if needsWriteback {
		if err := c.writeBack(ctx, key, writebackValue); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) writeBack(ctx context.Context, key, value string) error {
	c.mu.Lock()
	c.metrics.Writebacks++
	c.mu.Unlock()
	logger.Infof("cache %s: writeback %s -> main memory", c.nodeID, key)
	return c.main.Set(ctx, key, value)
}

// installLocked admits key at the given state, evicting the LRU line
// (with write-back if modified) when the cache is at capacity.
func (c *Cache) installLocked(key, value string, state State) {
	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.state = state
		c.touchLocked(existing)
		return
	}

	if c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictLRULocked()
	}

	elem := c.order.PushFront(key)
	ln := &line{key: key, value: value, state: state, element: elem}
	c.entries[key] = ln
}

func (c *Cache) evictLRULocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	lruKey := back.Value.(string)
	ln := c.entries[lruKey]
	c.order.Remove(back)
	delete(c.entries, lruKey)

	if ln.state == StateModified {
		c.metrics.Writebacks++
		if err := c.main.Set(context.Background(), lruKey, ln.value); err != nil {
			logger.Errorf("cache %s: eviction writeback of %q failed: %v", c.nodeID, lruKey, err)
		}
	}
	logger.Debugf("cache %s: LRU eviction -> %s", c.nodeID, lruKey)
}

func (c *Cache) touchLocked(ln *line) {
	c.order.MoveToFront(ln.element)
}

// GetMetrics returns a snapshot of this cache's counters, per the
// original's get_metrics().
func (c *Cache) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.Size = len(c.entries)
	return m
}

// HitRate returns hits/(hits+misses), or 0 when nothing has been read
// yet.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}
