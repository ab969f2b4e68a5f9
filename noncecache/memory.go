package noncecache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an unbounded in-process nonce cache.
type Memory struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewMemory creates a Memory cache whose entries live for ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		c:   gocache.New(ttl, cleanupInterval(ttl)),
		ttl: ttl,
	}
}

// Seen implements Cache.
func (m *Memory) Seen(_ context.Context, nonce string) (bool, error) {
	_, ok := m.c.Get(nonce)
	return ok, nil
}

// MarkSeen implements Cache.
func (m *Memory) MarkSeen(_ context.Context, nonce string) error {
	// Add fails when the nonce is already present, which keeps the original
	// insertion time.
	_ = m.c.Add(nonce, true, m.ttl)
	return nil
}

// CheckAndMark implements Cache. go-cache's Add is an insert-if-absent under
// the cache lock, which makes the check and the mark a single step.
func (m *Memory) CheckAndMark(_ context.Context, nonce string) (bool, error) {
	if err := m.c.Add(nonce, true, m.ttl); err != nil {
		return true, nil
	}

	return false, nil
}

// Len returns the number of recorded nonces, including expired entries not
// yet swept.
func (m *Memory) Len() int {
	return m.c.ItemCount()
}

// Close drops all recorded nonces.
func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
