package hawk

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"
)

// Algorithm identifies the hash function used for MACs and payload hashes.
type Algorithm string

const (
	// SHA256 is HMAC-SHA256, the default.
	SHA256 Algorithm = "sha256"

	// SHA1 is HMAC-SHA1, kept for interoperability with older peers.
	SHA1 Algorithm = "sha1"
)

// String returns the algorithm name as used in configuration.
func (a Algorithm) String() string {
	return string(a)
}

// ParseAlgorithm maps a case-insensitive name to an Algorithm. An empty name
// yields SHA256.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sha256", "sha-256":
		return SHA256, nil
	case "sha1", "sha-1":
		return SHA1, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
	}
}

func (a Algorithm) hash() (func() hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New, nil
	case SHA1:
		return sha1.New, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, a)
	}
}

// Credential is a key identifier, the shared secret and its MAC algorithm.
// It is resolved by the caller and never mutated by this package.
type Credential struct {
	ID        string
	Key       []byte
	Algorithm Algorithm
}

// NewCredential returns a validated credential holding a copy of key.
func NewCredential(id string, key []byte, alg Algorithm) (*Credential, error) {
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	c := &Credential{ID: id, Key: keyCopy, Algorithm: alg}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate checks that the credential can be used to compute MACs.
func (c *Credential) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: credential must not be nil", ErrInvalidCredential)
	}

	if c.ID == "" {
		return fmt.Errorf("%w: id must not be empty", ErrInvalidCredential)
	}

	// The id is quoted in headers and joined with backslashes in bewits.
	if strings.ContainsAny(c.ID, "\"\\") {
		return fmt.Errorf("%w: id must not contain quotes or backslashes", ErrInvalidCredential)
	}

	if len(c.Key) == 0 {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidCredential)
	}

	if _, err := c.Algorithm.hash(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	return nil
}

func (c *Credential) mac(message []byte) ([]byte, error) {
	newHash, err := c.Algorithm.hash()
	if err != nil {
		return nil, err
	}

	h := hmac.New(newHash, c.Key)
	h.Write(message)

	return h.Sum(nil), nil
}

// CredentialResolver returns the credential for a key identifier. It is the
// hook into whatever credential store the caller runs. Unknown identifiers
// should be reported with ErrUnknownID.
type CredentialResolver func(ctx context.Context, id string) (*Credential, error)

// StaticCredentials maps key identifiers to credentials held in memory.
type StaticCredentials map[string]*Credential

// Add validates c and stores it under its id, replacing any previous entry.
func (s StaticCredentials) Add(c *Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s[c.ID] = c

	return nil
}

// Resolve implements CredentialResolver.
func (s StaticCredentials) Resolve(_ context.Context, id string) (*Credential, error) {
	c, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownID, id)
	}

	return c, nil
}
