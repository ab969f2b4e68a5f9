package hawk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// MiddlewareConfig configures the server-side authentication middleware.
type MiddlewareConfig struct {
	// Server runs the checks. Required.
	Server *Server

	// Resolver looks up the credential for a key identifier. Required.
	Resolver CredentialResolver

	// AllowBewit accepts bewit-authenticated GET and HEAD requests that carry
	// no Authorization header.
	AllowBewit bool

	// RequirePayloadHash rejects header-mode requests without a payload
	// hash. When false, a hash is verified only if the client sent one.
	RequirePayloadHash bool

	// MaxBodyBytes caps the request body read for payload verification and
	// by downstream handlers. Zero means no limit.
	MaxBodyBytes int64

	// OnError is called when authentication fails. The WWW-Authenticate
	// challenge is already set for data errors. When nil, the status from
	// StatusCode is written with no body.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// AuthInfo describes an authenticated request.
type AuthInfo struct {
	ID   string
	Mode Mode
	Ext  string
}

type authInfoKey struct{}

// AuthInfoFromContext returns the AuthInfo stored by Middleware.
func AuthInfoFromContext(ctx context.Context) (AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey{}).(AuthInfo)
	return info, ok
}

// Middleware returns a middleware that authenticates incoming requests with
// Hawk and stores an AuthInfo in the request context.
//
// The request URI is rebuilt from the Host header and the request line. The
// scheme is https for requests received over TLS, otherwise whatever
// r.URL.Scheme holds, so a proxy-header middleware placed in front can
// restore the scheme the client used.
func Middleware(cfg MiddlewareConfig) (func(http.Handler) http.Handler, error) {
	if cfg.Resolver == nil {
		return nil, ErrNoResolver
	}

	if cfg.Server == nil {
		return nil, ErrNoServer
	}

	onError := cfg.OnError
	if onError == nil {
		onError = defaultOnError
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxBodyBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes)
			}

			info, err := authenticateRequest(r, cfg)
			if err != nil {
				if IsDataError(err) {
					w.Header().Set("WWW-Authenticate", cfg.Server.GenerateAuthenticateHeader())
				}

				onError(w, r, err)

				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authInfoKey{}, info)))
		})
	}, nil
}

func authenticateRequest(r *http.Request, cfg MiddlewareConfig) (AuthInfo, error) {
	header := r.Header.Get("Authorization")

	if header == "" && cfg.AllowBewit && bewitPattern.MatchString(r.URL.RawQuery) {
		return authenticateBewitRequest(r, cfg)
	}

	fields, err := SplitAuthorizationHeader(header)
	if err != nil {
		return AuthInfo{}, err
	}

	id, ok := fields[FieldID]
	if !ok || id == "" {
		return AuthInfo{}, fmt.Errorf("%w: %s", ErrMissingField, FieldID)
	}

	cred, err := cfg.Resolver(r.Context(), id)
	if err != nil {
		return AuthInfo{}, err
	}

	if err := cfg.Server.Authenticate(r.Context(), cred, RequestURI(r), r.Method, fields); err != nil {
		return AuthInfo{}, err
	}

	hash, hasHash := fields[FieldHash]
	if cfg.RequirePayloadHash && !hasHash {
		return AuthInfo{}, fmt.Errorf("%w: %s", ErrMissingField, FieldHash)
	}

	if hasHash {
		body, err := readAndRestoreBody(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return AuthInfo{}, fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, tooLarge.Limit)
			}

			return AuthInfo{}, fmt.Errorf("hawk: reading request body: %w", err)
		}

		if err := VerifyPayloadHash(cred.Algorithm, r.Header.Get("Content-Type"), body, hash); err != nil {
			return AuthInfo{}, err
		}
	}

	return AuthInfo{ID: id, Mode: ModeHeader, Ext: fields[FieldExt]}, nil
}

func authenticateBewitRequest(r *http.Request, cfg MiddlewareConfig) (AuthInfo, error) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return AuthInfo{}, ErrBewitMethod
	}

	raw, err := ExtractBewit(r.URL)
	if err != nil {
		return AuthInfo{}, err
	}

	bewit, err := DecodeBewit(raw)
	if err != nil {
		return AuthInfo{}, err
	}

	cred, err := cfg.Resolver(r.Context(), bewit.ID)
	if err != nil {
		return AuthInfo{}, err
	}

	if err := cfg.Server.AuthenticateBewit(cred, RequestURI(r)); err != nil {
		return AuthInfo{}, err
	}

	return AuthInfo{ID: bewit.ID, Mode: ModeBewit, Ext: bewit.Ext}, nil
}

// RequestURI reconstructs the absolute URI of an incoming request as the
// client addressed it.
func RequestURI(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if r.URL.Scheme != "" {
		scheme = r.URL.Scheme
	}

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}

	return &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
}

// defaultOnError writes the suggested status code with no body.
func defaultOnError(w http.ResponseWriter, _ *http.Request, err error) {
	w.WriteHeader(StatusCode(err))
}
