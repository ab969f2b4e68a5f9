package hawk

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/hawk/noncecache"
)

var testNow = time.Unix(1353832234, 0)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()

	if cfg.Now == nil {
		cfg.Now = fixedClock(testNow)
	}

	s := NewServer(cfg)
	t.Cleanup(func() { s.Close() })

	return s
}

func newTestClient(t *testing.T, cred *Credential, now time.Time) *Client {
	t.Helper()

	c, err := NewClient(cred, WithClock(fixedClock(now)))
	require.NoError(t, err)

	return c
}

// signedFields builds the parsed header for a request signed at ts.
func signedFields(t *testing.T, cred *Credential, ts int64, nonce string, uri *url.URL, method, hash, ext string) AuthorizationFields {
	t.Helper()

	mac, err := CalculateMAC(cred, AuthHeader, ts, uri, nonce, method, hash, ext)
	require.NoError(t, err)

	fields := AuthorizationFields{
		FieldID:    cred.ID,
		FieldTS:    strconv.FormatInt(ts, 10),
		FieldNonce: nonce,
		FieldMAC:   mac,
	}

	if hash != "" {
		fields[FieldHash] = hash
	}

	if ext != "" {
		fields[FieldExt] = ext
	}

	return fields
}

type failingCache struct{}

func (failingCache) Seen(context.Context, string) (bool, error) { return false, errors.New("down") }
func (failingCache) MarkSeen(context.Context, string) error     { return errors.New("down") }
func (failingCache) CheckAndMark(context.Context, string) (bool, error) {
	return false, errors.New("down")
}
func (failingCache) Close() error { return nil }

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock(start time.Time) *steppingClock {
	return &steppingClock{now: start}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// clockedCache is a nonce cache driven by the same clock as the server.
// Entries expire once more than ttl has passed since insertion.
type clockedCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
}

func newClockedCache(ttl time.Duration, now func() time.Time) *clockedCache {
	return &clockedCache{ttl: ttl, now: now, entries: make(map[string]time.Time)}
}

func (c *clockedCache) liveLocked(nonce string) bool {
	inserted, ok := c.entries[nonce]
	return ok && !c.now().After(inserted.Add(c.ttl))
}

func (c *clockedCache) Seen(_ context.Context, nonce string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.liveLocked(nonce), nil
}

func (c *clockedCache) MarkSeen(_ context.Context, nonce string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.liveLocked(nonce) {
		c.entries[nonce] = c.now()
	}

	return nil
}

func (c *clockedCache) CheckAndMark(_ context.Context, nonce string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(nonce) {
		return true, nil
	}

	c.entries[nonce] = c.now()

	return false, nil
}

func (c *clockedCache) Close() error { return nil }

type recordingObserver struct {
	mu    sync.Mutex
	modes []Mode
	errs  []error
}

func (o *recordingObserver) ObserveAuthentication(mode Mode, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.modes = append(o.modes, mode)
	o.errs = append(o.errs, err)
}

func TestNewServer(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s := NewServer(ServerConfig{})
		defer s.Close()

		assert.Equal(t, DefaultTimestampSkew, s.TimestampSkew())
		assert.Equal(t, DefaultNTPServer, s.Challenge().NTP)
		assert.True(t, s.ownsCache)
	})

	t.Run("custom cache is not owned", func(t *testing.T) {
		cache := noncecache.NewMemory(time.Minute)
		defer cache.Close()

		s := NewServer(ServerConfig{NonceCache: cache, TimestampSkew: 5 * time.Second})
		assert.False(t, s.ownsCache)
		assert.Equal(t, 5*time.Second, s.TimestampSkew())
		assert.NoError(t, s.Close())
	})
}

func TestNonceTTL(t *testing.T) {
	assert.Equal(t, 2*time.Minute, NonceTTL(time.Minute))
}

func TestServerAuthenticate(t *testing.T) {
	cred := testCredential(t)
	uri := mustParseURL(t, "http://example.com:8000/resource/1?b=1&a=2")
	ctx := context.Background()
	ts := testNow.Unix()

	t.Run("client round trip", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		c := newTestClient(t, cred, testNow)

		header, err := c.GenerateAuthorizationHeader(uri, "GET", "", "app-data")
		require.NoError(t, err)

		fields, err := s.SplitAuthorizationHeader(header)
		require.NoError(t, err)

		assert.NoError(t, s.Authenticate(ctx, cred, uri, "GET", fields))
	})

	t.Run("client round trip with payload hash", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		c := newTestClient(t, cred, testNow)

		hash, err := PayloadHash(SHA256, "text/plain", []byte("hello"))
		require.NoError(t, err)

		header, err := c.GenerateAuthorizationHeader(uri, "POST", hash, "")
		require.NoError(t, err)

		fields, err := SplitAuthorizationHeader(header)
		require.NoError(t, err)
		assert.Equal(t, hash, fields[FieldHash])

		assert.NoError(t, s.Authenticate(ctx, cred, uri, "POST", fields))
	})

	t.Run("replayed nonce", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		fields := signedFields(t, cred, ts, "abc123", uri, "GET", "", "")

		require.NoError(t, s.Authenticate(ctx, cred, uri, "GET", fields))

		err := s.Authenticate(ctx, cred, uri, "GET", fields)
		assert.ErrorIs(t, err, ErrReplay)
		assert.Equal(t, KindBad, KindOf(err))
	})

	t.Run("timestamp window", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{TimestampSkew: time.Minute})

		tests := []struct {
			name  string
			ts    int64
			valid bool
		}{
			{"just inside past", ts - 59, true},
			{"edge past", ts - 60, true},
			{"just outside past", ts - 61, false},
			{"just inside future", ts + 59, true},
			{"edge future", ts + 60, true},
			{"just outside future", ts + 61, false},
			{"far past", 0, false},
		}

		for i, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fields := signedFields(t, cred, tt.ts, "window"+strconv.Itoa(i), uri, "GET", "", "")

				err := s.Authenticate(ctx, cred, uri, "GET", fields)
				if tt.valid {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, ErrStaleTimestamp)
				}
			})
		}
	})

	t.Run("stale timestamp does not consume nonce", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})

		stale := signedFields(t, cred, ts-3600, "reuse", uri, "GET", "", "")
		require.ErrorIs(t, s.Authenticate(ctx, cred, uri, "GET", stale), ErrStaleTimestamp)

		fresh := signedFields(t, cred, ts, "reuse", uri, "GET", "", "")
		assert.NoError(t, s.Authenticate(ctx, cred, uri, "GET", fresh))
	})

	t.Run("replay at future edge until nonce ttl", func(t *testing.T) {
		const skew = time.Minute

		tests := []struct {
			name   string
			start  time.Time
			replay []time.Duration
			want   []error
		}{
			{
				name:   "whole second arrival",
				start:  testNow,
				replay: []time.Duration{NonceTTL(skew), time.Nanosecond},
				want:   []error{ErrReplay, ErrStaleTimestamp},
			},
			{
				name:   "sub-second arrival",
				start:  testNow.Add(900 * time.Millisecond),
				replay: []time.Duration{NonceTTL(skew) - 900*time.Millisecond, 950 * time.Millisecond},
				want:   []error{ErrReplay, ErrStaleTimestamp},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				clock := newSteppingClock(tt.start)

				s := newTestServer(t, ServerConfig{
					TimestampSkew: skew,
					NonceCache:    newClockedCache(NonceTTL(skew), clock.Now),
					Now:           clock.Now,
				})

				fields := signedFields(t, cred, ts+int64(skew/time.Second), "edge", uri, "GET", "", "")
				require.NoError(t, s.Authenticate(ctx, cred, uri, "GET", fields))

				for i, step := range tt.replay {
					clock.Advance(step)
					assert.ErrorIs(t, s.Authenticate(ctx, cred, uri, "GET", fields), tt.want[i])
				}
			})
		}
	})

	t.Run("sub-second past the window", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{
			TimestampSkew: time.Minute,
			Now:           fixedClock(testNow.Add(time.Minute + 500*time.Millisecond)),
		})

		fields := signedFields(t, cred, ts, "subsecond", uri, "GET", "", "")
		assert.ErrorIs(t, s.Authenticate(ctx, cred, uri, "GET", fields), ErrStaleTimestamp)
	})

	t.Run("bad timestamp format", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		fields := signedFields(t, cred, ts, "n1", uri, "GET", "", "")
		fields[FieldTS] = "yesterday"

		assert.ErrorIs(t, s.Authenticate(ctx, cred, uri, "GET", fields), ErrTimestampFormat)
	})

	t.Run("missing fields", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})

		for _, name := range []string{FieldID, FieldTS, FieldNonce, FieldMAC} {
			t.Run(name, func(t *testing.T) {
				fields := signedFields(t, cred, ts, "missing-"+name, uri, "GET", "", "")
				delete(fields, name)

				err := s.Authenticate(ctx, cred, uri, "GET", fields)
				assert.ErrorIs(t, err, ErrMissingField)
				assert.Contains(t, err.Error(), name)
			})
		}
	})

	t.Run("mac mismatch", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		fields := signedFields(t, cred, ts, "n2", uri, "GET", "", "")
		fields[FieldMAC] = "AAAA" + fields[FieldMAC][4:]

		err := s.Authenticate(ctx, cred, uri, "GET", fields)
		assert.ErrorIs(t, err, ErrMACMismatch)
		assert.Equal(t, KindAuthentication, KindOf(err))
	})

	t.Run("tampered request", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})

		tests := []struct {
			name   string
			uri    string
			method string
			mutate func(AuthorizationFields)
		}{
			{"method", uri.String(), "POST", nil},
			{"path", "http://example.com:8000/resource/2?b=1&a=2", "GET", nil},
			{"query", "http://example.com:8000/resource/1?b=1&a=3", "GET", nil},
			{"host", "http://example.org:8000/resource/1?b=1&a=2", "GET", nil},
			{"port", "http://example.com:8001/resource/1?b=1&a=2", "GET", nil},
			{"ext", uri.String(), "GET", func(f AuthorizationFields) { f[FieldExt] = "forged" }},
			{"hash", uri.String(), "GET", func(f AuthorizationFields) { f[FieldHash] = "forged" }},
		}

		for i, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fields := signedFields(t, cred, ts, "tamper"+strconv.Itoa(i), uri, "GET", "", "")
				if tt.mutate != nil {
					tt.mutate(fields)
				}

				err := s.Authenticate(ctx, cred, mustParseURL(t, tt.uri), tt.method, fields)
				assert.ErrorIs(t, err, ErrMACMismatch)
			})
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		other, err := NewCredential(testID, []byte("another secret"), SHA256)
		require.NoError(t, err)

		fields := signedFields(t, other, ts, "n3", uri, "GET", "", "")
		assert.ErrorIs(t, s.Authenticate(ctx, cred, uri, "GET", fields), ErrMACMismatch)
	})

	t.Run("id mismatch", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		fields := signedFields(t, cred, ts, "n4", uri, "GET", "", "")
		fields[FieldID] = "someone-else"

		assert.ErrorIs(t, s.Authenticate(ctx, cred, uri, "GET", fields), ErrUnknownID)
	})

	t.Run("nil credential", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		fields := signedFields(t, cred, ts, "n5", uri, "GET", "", "")

		assert.ErrorIs(t, s.Authenticate(ctx, nil, uri, "GET", fields), ErrInvalidCredential)
	})

	t.Run("nonce cache failure", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{NonceCache: failingCache{}})
		fields := signedFields(t, cred, ts, "n6", uri, "GET", "", "")

		err := s.Authenticate(ctx, cred, uri, "GET", fields)
		assert.ErrorIs(t, err, ErrNonceCache)
		assert.True(t, IsServerError(err))
		assert.Equal(t, 500, StatusCode(err))
	})

	t.Run("concurrent replay admits one", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		fields := signedFields(t, cred, ts, "race", uri, "GET", "", "")

		var (
			wg       sync.WaitGroup
			accepted atomic.Int32
			replayed atomic.Int32
		)

		for i := 0; i < 32; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				err := s.Authenticate(ctx, cred, uri, "GET", fields)
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, ErrReplay):
					replayed.Add(1)
				}
			}()
		}

		wg.Wait()

		assert.Equal(t, int32(1), accepted.Load())
		assert.Equal(t, int32(31), replayed.Load())
	})

	t.Run("observer", func(t *testing.T) {
		obs := &recordingObserver{}
		s := newTestServer(t, ServerConfig{Observer: obs})
		fields := signedFields(t, cred, ts, "observed", uri, "GET", "", "")

		require.NoError(t, s.Authenticate(ctx, cred, uri, "GET", fields))
		require.Error(t, s.Authenticate(ctx, cred, uri, "GET", fields))

		require.Len(t, obs.errs, 2)
		assert.Equal(t, []Mode{ModeHeader, ModeHeader}, obs.modes)
		assert.NoError(t, obs.errs[0])
		assert.ErrorIs(t, obs.errs[1], ErrReplay)
	})
}

func TestServerAuthenticateBewit(t *testing.T) {
	cred := testCredential(t)
	uri := mustParseURL(t, "http://example.com/resource/1?b=1&a=2")

	sign := func(t *testing.T, target *url.URL, ttl time.Duration, ext string) *url.URL {
		t.Helper()

		signed, err := newTestClient(t, cred, testNow).SignURL(target, ttl, ext)
		require.NoError(t, err)

		return signed
	}

	t.Run("valid", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		signed := sign(t, uri, time.Minute, "")

		assert.NoError(t, s.AuthenticateBewit(cred, signed))
	})

	t.Run("reference vector", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{Now: fixedClock(time.Unix(1353832834, 0))})
		signed := mustParseURL(t, "http://example.com/resource/1?b=1&a=2&bewit=ZGgzN2ZnajQ5MmplXDEzNTM4MzI4MzRcbVJRZFR0UXArazhCQTVkaVZpN2djSE5lZU5uNXFKQTR3UndyS2JzYXFQdz1cc29tZS1hcHAtZGF0YQ")

		assert.NoError(t, s.AuthenticateBewit(cred, signed))
	})

	t.Run("bewit position does not matter", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		signed := sign(t, uri, time.Minute, "")

		raw, err := ExtractBewit(signed)
		require.NoError(t, err)

		moved := *uri
		moved.RawQuery = "bewit=" + raw + "&b=1&a=2"
		assert.NoError(t, s.AuthenticateBewit(cred, &moved))

		moved.RawQuery = "b=1&bewit=" + raw + "&a=2"
		assert.NoError(t, s.AuthenticateBewit(cred, &moved))
	})

	t.Run("reusable until expiry", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		signed := sign(t, uri, time.Minute, "")

		assert.NoError(t, s.AuthenticateBewit(cred, signed))
		assert.NoError(t, s.AuthenticateBewit(cred, signed))
	})

	t.Run("expiry boundary", func(t *testing.T) {
		signed := sign(t, uri, 10*time.Second, "")
		expiry := testNow.Add(10 * time.Second)

		atExpiry := newTestServer(t, ServerConfig{Now: fixedClock(expiry)})
		assert.NoError(t, atExpiry.AuthenticateBewit(cred, signed))

		afterExpiry := newTestServer(t, ServerConfig{Now: fixedClock(expiry.Add(time.Second))})
		assert.ErrorIs(t, afterExpiry.AuthenticateBewit(cred, signed), ErrBewitExpired)
	})

	t.Run("already expired", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})

		mac, err := CalculateMAC(cred, AuthBewit, testNow.Unix()-1, uri, "", "", "", "")
		require.NoError(t, err)

		expired := appendBewit(uri, Bewit{ID: cred.ID, Expiry: testNow.Unix() - 1, MAC: mac}.Encode())
		assert.ErrorIs(t, s.AuthenticateBewit(cred, expired), ErrBewitExpired)
	})

	t.Run("wrong id", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		other, err := NewCredential("other-id", []byte(testKey), SHA256)
		require.NoError(t, err)

		signed := sign(t, uri, time.Minute, "")
		assert.ErrorIs(t, s.AuthenticateBewit(other, signed), ErrUnknownID)
	})

	t.Run("tampered query", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		signed := sign(t, uri, time.Minute, "")

		tampered := *signed
		tampered.RawQuery = "b=2&" + signed.RawQuery[len("b=1&"):]

		assert.ErrorIs(t, s.AuthenticateBewit(cred, &tampered), ErrMACMismatch)
	})

	t.Run("tampered ext", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		signed := sign(t, uri, time.Minute, "original")

		raw, err := ExtractBewit(signed)
		require.NoError(t, err)

		b, err := DecodeBewit(raw)
		require.NoError(t, err)
		b.Ext = "forged"

		forged := appendBewit(uri, b.Encode())
		assert.ErrorIs(t, s.AuthenticateBewit(cred, forged), ErrMACMismatch)
	})

	t.Run("missing bewit", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		assert.ErrorIs(t, s.AuthenticateBewit(cred, uri), ErrBewitMissing)
	})

	t.Run("malformed bewit", func(t *testing.T) {
		s := newTestServer(t, ServerConfig{})
		assert.ErrorIs(t, s.AuthenticateBewit(cred, mustParseURL(t, "http://example.com/x?bewit=AAAA")), ErrBewitMalformed)
	})

	t.Run("observer", func(t *testing.T) {
		obs := &recordingObserver{}
		s := newTestServer(t, ServerConfig{Observer: obs})

		require.NoError(t, s.AuthenticateBewit(cred, sign(t, uri, time.Minute, "")))
		assert.Equal(t, []Mode{ModeBewit}, obs.modes)
	})
}

func TestServerChallenge(t *testing.T) {
	s := newTestServer(t, ServerConfig{NTPServer: "time.example.com"})

	assert.Equal(t, Challenge{TS: testNow.Unix(), NTP: "time.example.com"}, s.Challenge())
	assert.Equal(t, `Hawk ts="1353832234", ntp="time.example.com"`, s.GenerateAuthenticateHeader())
}
