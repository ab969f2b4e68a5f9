package hawk

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
)

// PayloadHash computes the Hawk payload hash for a request or response body.
// The content type is lower-cased and stripped of parameters before hashing.
func PayloadHash(alg Algorithm, contentType string, payload []byte) (string, error) {
	newHash, err := alg.hash()
	if err != nil {
		return "", err
	}

	h := newHash()
	h.Write([]byte("hawk." + Version + ".payload\n"))
	h.Write([]byte(normalizeContentType(contentType)))
	h.Write([]byte("\n"))
	h.Write(payload)
	h.Write([]byte("\n"))

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// VerifyPayloadHash recomputes the payload hash and compares it with want in
// constant time.
func VerifyPayloadHash(alg Algorithm, contentType string, payload []byte, want string) error {
	got, err := PayloadHash(alg, contentType, payload)
	if err != nil {
		return err
	}

	if !timeConstantEquals(got, want) {
		return ErrPayloadMismatch
	}

	return nil
}

func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}

	return strings.ToLower(strings.TrimSpace(contentType))
}

// readAndRestoreBody reads the entire request body and replaces it with a
// new reader so the body can be consumed again by downstream handlers.
func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}
