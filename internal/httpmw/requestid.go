// Package httpmw holds the HTTP middleware stack of the hawkd demo server.
// Every middleware has the func(http.Handler) http.Handler shape used by chi.
package httpmw

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestIDFromContext returns the request ID stored by RequestID, or an
// empty string.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}

	return ""
}

// RequestIDConfig configures the RequestID middleware.
type RequestIDConfig struct {
	// HeaderName is the header carrying the ID. Defaults to "X-Request-ID".
	HeaderName string

	// Generate returns a new ID. Defaults to GenerateUUIDv7.
	Generate func() string

	// TrustIncoming reuses an ID sent by the client.
	TrustIncoming bool
}

// RequestID sets a request ID on the request context and the response.
func RequestID(cfg RequestIDConfig) func(http.Handler) http.Handler {
	headerName := cfg.HeaderName
	if headerName == "" {
		headerName = "X-Request-ID"
	}

	generate := cfg.Generate
	if generate == nil {
		generate = GenerateUUIDv7
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if cfg.TrustIncoming {
				id = r.Header.Get(headerName)
			}

			if id == "" {
				id = generate()
			}

			w.Header().Set(headerName, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// GenerateUUIDv4 returns a random UUID.
func GenerateUUIDv4() string {
	return uuid.NewString()
}

// GenerateUUIDv7 returns a time-ordered UUID.
func GenerateUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
