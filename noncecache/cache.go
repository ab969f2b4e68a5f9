// Package noncecache provides time-bounded stores used by a Hawk server to
// detect replayed nonces.
//
// Every implementation records a nonce with a fixed time-to-live counted from
// insertion. Entries are never refreshed by later lookups or marks, so a
// nonce becomes usable again exactly once its window has closed.
//
// Three implementations are provided:
//
//   - Memory: in-process, backed by github.com/patrickmn/go-cache. Memory use
//     is bounded only by the TTL, so a flood of unique nonces grows it
//     without limit.
//   - Bounded: in-process with a maximum entry count. At capacity the
//     least-recently-inserted nonce is evicted.
//   - Redis: shared between server replicas, backed by SET NX with an expiry.
package noncecache

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("noncecache: cache is closed")

// Cache is a set of recently seen nonces.
type Cache interface {
	// Seen reports whether nonce was recorded and has not yet expired.
	Seen(ctx context.Context, nonce string) (bool, error)

	// MarkSeen records nonce. Marking a nonce that is already recorded does
	// not extend its lifetime.
	MarkSeen(ctx context.Context, nonce string) error

	// CheckAndMark atomically reports whether nonce was already recorded and,
	// when it was not, records it. Two concurrent calls with the same nonce
	// never both return false.
	CheckAndMark(ctx context.Context, nonce string) (seen bool, err error)

	// Close releases resources held by the cache.
	Close() error
}

// cleanupInterval picks how often expired entries are swept for a TTL.
func cleanupInterval(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return time.Minute
	case ttl < time.Second:
		return ttl
	case ttl > time.Minute:
		return time.Minute
	default:
		return ttl
	}
}
