package hawk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
	}{
		{"", SHA256},
		{"sha256", SHA256},
		{"SHA-256", SHA256},
		{" sha1 ", SHA1},
		{"SHA-1", SHA1},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			alg, err := ParseAlgorithm(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, alg)
		})
	}

	_, err := ParseAlgorithm("md5")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestNewCredential(t *testing.T) {
	t.Run("copies key", func(t *testing.T) {
		key := []byte("secret")

		cred, err := NewCredential("id", key, SHA256)
		require.NoError(t, err)

		key[0] = 'X'
		assert.Equal(t, []byte("secret"), cred.Key)
	})

	tests := []struct {
		name string
		id   string
		key  []byte
		alg  Algorithm
	}{
		{"empty id", "", []byte("k"), SHA256},
		{"quote in id", `a"b`, []byte("k"), SHA256},
		{"backslash in id", `a\b`, []byte("k"), SHA256},
		{"empty key", "id", nil, SHA256},
		{"unknown algorithm", "id", []byte("k"), Algorithm("md5")},
		{"zero algorithm", "id", []byte("k"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCredential(tt.id, tt.key, tt.alg)
			assert.ErrorIs(t, err, ErrInvalidCredential)
		})
	}

	t.Run("nil validate", func(t *testing.T) {
		var c *Credential
		assert.ErrorIs(t, c.Validate(), ErrInvalidCredential)
	})
}

func TestStaticCredentials(t *testing.T) {
	store := StaticCredentials{}
	cred := testCredential(t)

	require.NoError(t, store.Add(cred))
	assert.ErrorIs(t, store.Add(&Credential{ID: "bad"}), ErrInvalidCredential)

	var resolver CredentialResolver = store.Resolve

	got, err := resolver(context.Background(), testID)
	require.NoError(t, err)
	assert.Same(t, cred, got)

	_, err = resolver(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUnknownID)
	assert.Equal(t, 401, StatusCode(err))
}
