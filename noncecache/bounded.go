package noncecache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type boundedEntry struct {
	inserted time.Time
	element  *list.Element
}

// Bounded is an in-process nonce cache holding at most maxEntries nonces.
// When full, the least-recently-inserted nonce is evicted to make room. An
// evicted nonce can be replayed until its timestamp falls outside the skew
// tolerance, so maxEntries should exceed the expected request rate times the
// window.
type Bounded struct {
	mu         sync.Mutex
	seen       map[string]*boundedEntry
	order      *list.List // oldest at front
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	done       chan struct{}
	closed     bool
}

// NewBounded creates a Bounded cache. A background goroutine sweeps expired
// entries until Close is called. maxEntries below 1 is treated as 1.
func NewBounded(ttl time.Duration, maxEntries int) *Bounded {
	return newBounded(ttl, maxEntries, time.Now)
}

func newBounded(ttl time.Duration, maxEntries int, now func() time.Time) *Bounded {
	if maxEntries < 1 {
		maxEntries = 1
	}

	c := &Bounded{
		seen:       make(map[string]*boundedEntry),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		done:       make(chan struct{}),
	}
	go c.janitor(cleanupInterval(ttl))

	return c
}

// Seen implements Cache.
func (c *Bounded) Seen(_ context.Context, nonce string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}

	return c.liveLocked(nonce), nil
}

// MarkSeen implements Cache.
func (c *Bounded) MarkSeen(_ context.Context, nonce string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if !c.liveLocked(nonce) {
		c.insertLocked(nonce)
	}

	return nil
}

// CheckAndMark implements Cache.
func (c *Bounded) CheckAndMark(_ context.Context, nonce string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}

	if c.liveLocked(nonce) {
		return true, nil
	}

	c.insertLocked(nonce)

	return false, nil
}

// Len returns the number of recorded nonces.
func (c *Bounded) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.seen)
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Bounded) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}

	return nil
}

// liveLocked reports whether nonce is present and unexpired. Must be called
// with mu held.
func (c *Bounded) liveLocked(nonce string) bool {
	entry, ok := c.seen[nonce]
	if !ok {
		return false
	}

	return c.now().Sub(entry.inserted) < c.ttl
}

// insertLocked records nonce, replacing an expired entry or evicting the
// oldest one at capacity. Must be called with mu held.
func (c *Bounded) insertLocked(nonce string) {
	if entry, ok := c.seen[nonce]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, nonce)
	}

	for len(c.seen) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.seen[nonce] = &boundedEntry{
		inserted: c.now(),
		element:  c.order.PushBack(nonce),
	}
}

func (c *Bounded) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}

	nonce, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, nonce)
}

func (c *Bounded) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired entries. Insertion order means it can stop at the
// first live entry.
func (c *Bounded) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		nonce, _ := front.Value.(string)
		if now.Sub(c.seen[nonce].inserted) < c.ttl {
			return
		}

		c.order.Remove(front)
		delete(c.seen, nonce)
	}
}
