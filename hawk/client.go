package hawk

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultNonceLength is the number of characters in a generated nonce.
const DefaultNonceLength = 6

const nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateNonce returns n characters drawn uniformly from an alphanumeric
// alphabet using crypto/rand.
func GenerateNonce(n int) (string, error) {
	if n <= 0 {
		n = DefaultNonceLength
	}

	// Bytes at or above limit are rejected so that every character is
	// equally likely.
	const limit = 256 - 256%len(nonceAlphabet)

	out := make([]byte, 0, n)
	buf := make([]byte, n+n/2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}

		for _, b := range buf {
			if int(b) >= limit {
				continue
			}

			out = append(out, nonceAlphabet[int(b)%len(nonceAlphabet)])
			if len(out) == n {
				break
			}
		}
	}

	return string(out), nil
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPathPrefix restricts the client to paths starting with prefix.
func WithPathPrefix(prefix string) ClientOption {
	return func(c *Client) {
		c.pathPrefix = prefix
	}
}

// WithNonceLength sets the nonce length. Values below 1 keep the default.
func WithNonceLength(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.nonceLength = n
		}
	}
}

// WithClock replaces the clock used for timestamps and bewit expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client builds Hawk credentials for outgoing requests. A Client is safe for
// concurrent use.
type Client struct {
	cred        *Credential
	pathPrefix  string
	nonceLength int
	now         func() time.Time

	// offset in seconds learned from a server challenge
	offset atomic.Int64
}

// NewClient creates a Client for cred.
func NewClient(cred *Credential, opts ...ClientOption) (*Client, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cred:        cred,
		nonceLength: DefaultNonceLength,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Credential returns the client's credential.
func (c *Client) Credential() *Credential {
	return c.cred
}

// IsValidFor reports whether the client should authenticate requests for
// path: true when no prefix is configured, when path is empty, or when path
// starts with the prefix.
func (c *Client) IsValidFor(path string) bool {
	return c.pathPrefix == "" || path == "" || strings.HasPrefix(path, c.pathPrefix)
}

// GenerateAuthorizationHeader returns the Authorization header value for a
// request. hash is the payload hash, or empty when the payload is not
// authenticated; ext is application data, or empty.
func (c *Client) GenerateAuthorizationHeader(uri *url.URL, method, hash, ext string) (string, error) {
	if err := checkFieldValue(FieldHash, hash); err != nil {
		return "", err
	}

	if err := checkFieldValue(FieldExt, ext); err != nil {
		return "", err
	}

	nonce, err := GenerateNonce(c.nonceLength)
	if err != nil {
		return "", fmt.Errorf("hawk: generating nonce: %w", err)
	}

	ts := c.timestamp()

	mac, err := CalculateMAC(c.cred, AuthHeader, ts, uri, nonce, method, hash, ext)
	if err != nil {
		return "", err
	}

	h := newHeaderBuilder()
	h.add(FieldID, c.cred.ID)
	h.add(FieldTS, strconv.FormatInt(ts, 10))
	h.add(FieldNonce, nonce)

	if hash != "" {
		h.add(FieldHash, hash)
	}

	if ext != "" {
		h.add(FieldExt, ext)
	}

	h.add(FieldMAC, mac)

	return h.String(), nil
}

// GenerateBewit returns an encoded bewit granting access to uri for ttl.
// Any bewit already present on uri is ignored.
func (c *Client) GenerateBewit(uri *url.URL, ttl time.Duration, ext string) (string, error) {
	if err := checkFieldValue(FieldExt, ext); err != nil {
		return "", err
	}

	stripped, err := StripBewit(uri)
	if err != nil {
		return "", err
	}

	expiry := c.timestamp() + int64(ttl/time.Second)

	mac, err := CalculateMAC(c.cred, AuthBewit, expiry, stripped, "", "", "", ext)
	if err != nil {
		return "", err
	}

	return Bewit{ID: c.cred.ID, Expiry: expiry, MAC: mac, Ext: ext}.Encode(), nil
}

// SignURL returns a copy of uri carrying a bewit valid for ttl.
func (c *Client) SignURL(uri *url.URL, ttl time.Duration, ext string) (*url.URL, error) {
	bewit, err := c.GenerateBewit(uri, ttl, ext)
	if err != nil {
		return nil, err
	}

	stripped, err := StripBewit(uri)
	if err != nil {
		return nil, err
	}

	return appendBewit(stripped, bewit), nil
}

// SyncClock adjusts the client clock from a WWW-Authenticate challenge so
// later timestamps match the server's view of the time.
func (c *Client) SyncClock(challenge string) error {
	ch, err := ParseAuthenticateHeader(challenge)
	if err != nil {
		return err
	}

	c.offset.Store(ch.TS - c.now().Unix())

	return nil
}

// ClockOffset returns the correction applied to the local clock.
func (c *Client) ClockOffset() time.Duration {
	return time.Duration(c.offset.Load()) * time.Second
}

func (c *Client) timestamp() int64 {
	return c.now().Unix() + c.offset.Load()
}
