package hawk

import (
	"errors"
	"net/http"
)

// Kind classifies an authentication failure.
type Kind int

const (
	// KindBad is a caller-correctable data error: malformed, missing, stale
	// or replayed input.
	KindBad Kind = iota + 1

	// KindAuthentication is a data error where the request was well formed
	// but the credentials did not prove possession of the key.
	KindAuthentication

	// KindServer is an environment failure on the verifying side.
	KindServer
)

// String returns a short lowercase name for the kind.
func (k Kind) String() string {
	switch k {
	case KindBad:
		return "bad"
	case KindAuthentication:
		return "authentication"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every operation in this package.
// Sentinel values below are *Error; context is added by wrapping them with
// fmt.Errorf and %w, so errors.Is matches the cause and KindOf the class.
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Error implements the error interface.
func (e *Error) Error() string { return e.msg }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// SuggestedResponseCode gives the HTTP status code a server should answer
// with.
func (e *Error) SuggestedResponseCode() int {
	switch e.kind {
	case KindBad:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Header and field errors.
var (
	// ErrMissingHeader is returned when no authorization header was supplied.
	ErrMissingHeader = newError(KindBad, "hawk: no authorization header")

	// ErrMalformedHeader is returned when the authorization header cannot be
	// split into a scheme and a list of fields.
	ErrMalformedHeader = newError(KindBad, "hawk: malformed authorization header")

	// ErrNotHawk is returned when the authorization scheme is not Hawk.
	ErrNotHawk = newError(KindBad, "hawk: authorization header is not a Hawk authorization header")

	// ErrMissingField is returned when a mandatory field is absent.
	ErrMissingField = newError(KindBad, "hawk: required field missing")

	// ErrInvalidFieldValue is returned when a value cannot be carried in a
	// quoted header field.
	ErrInvalidFieldValue = newError(KindBad, "hawk: invalid field value")
)

// Freshness errors.
var (
	// ErrTimestampFormat is returned when ts is not seconds since the epoch.
	ErrTimestampFormat = newError(KindBad, "hawk: timestamp is in the wrong format, expected seconds since the epoch")

	// ErrStaleTimestamp is returned when ts lies outside the skew tolerance.
	ErrStaleTimestamp = newError(KindBad, "hawk: timestamp is too far from the current time")

	// ErrReplay is returned when a nonce was already seen inside the window.
	ErrReplay = newError(KindBad, "hawk: nonce already seen")
)

// MAC and credential errors.
var (
	// ErrMACMismatch is returned when the supplied MAC does not match the
	// server-calculated MAC.
	ErrMACMismatch = newError(KindAuthentication, "hawk: mac does not match the server-calculated mac")

	// ErrUnknownID is returned when the key identifier is not recognized.
	ErrUnknownID = newError(KindAuthentication, "hawk: key id not recognized")

	// ErrInvalidCredential is returned when a credential lacks an id or key,
	// or names an unsupported algorithm.
	ErrInvalidCredential = newError(KindBad, "hawk: invalid credential")

	// ErrUnsupportedAlgorithm is returned for an unknown MAC algorithm.
	ErrUnsupportedAlgorithm = newError(KindBad, "hawk: unsupported algorithm")

	// ErrMissingHost is returned when the URI has no host component.
	ErrMissingHost = newError(KindBad, "hawk: uri has no host")

	// ErrMissingPort is returned when no port is given and none can be
	// derived from the scheme.
	ErrMissingPort = newError(KindBad, "hawk: uri has no port and the scheme has no default")

	// ErrPayloadMismatch is returned when the payload hash does not match the
	// request body.
	ErrPayloadMismatch = newError(KindAuthentication, "hawk: payload hash does not match the request body")

	// ErrPayloadTooLarge is returned when the request body exceeds the
	// middleware's size limit.
	ErrPayloadTooLarge = newError(KindBad, "hawk: request body too large")
)

// Bewit errors.
var (
	// ErrBewitMissing is returned when the URI carries no bewit parameter.
	ErrBewitMissing = newError(KindBad, "hawk: the query string did not contain a bewit")

	// ErrBewitMalformed is returned when the bewit cannot be decoded into its
	// four fields.
	ErrBewitMalformed = newError(KindBad, "hawk: malformed bewit")

	// ErrBewitExpired is returned when the bewit expiry has passed.
	ErrBewitExpired = newError(KindBad, "hawk: bewit has expired")

	// ErrBewitMethod is returned when a bewit is presented on a method other
	// than GET or HEAD.
	ErrBewitMethod = newError(KindBad, "hawk: bewit is only valid for GET and HEAD requests")
)

// Server errors.
var (
	// ErrStripBewit is returned when the URI cannot be rebuilt after the
	// bewit has been removed.
	ErrStripBewit = newError(KindServer, "hawk: failed to remove bewit from query string")

	// ErrNonceCache is returned when the nonce cache fails.
	ErrNonceCache = newError(KindServer, "hawk: nonce cache failure")

	// ErrNoResolver is returned when middleware has no credential resolver.
	ErrNoResolver = newError(KindServer, "hawk: credential resolver must not be nil")

	// ErrNoServer is returned when middleware has no server.
	ErrNoServer = newError(KindServer, "hawk: server must not be nil")

	// ErrNoClient is returned when a transport has no client.
	ErrNoClient = newError(KindServer, "hawk: client must not be nil")
)

// KindOf returns the kind of err, or 0 when err is not a hawk error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}

	return 0
}

// IsDataError reports whether err is a caller-correctable data error.
func IsDataError(err error) bool {
	k := KindOf(err)
	return k == KindBad || k == KindAuthentication
}

// IsServerError reports whether err is an environment failure.
func IsServerError(err error) bool {
	return KindOf(err) == KindServer
}

// StatusCode returns the HTTP status code suggested for err. Errors that are
// not hawk errors map to 500.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.SuggestedResponseCode()
	}

	return http.StatusInternalServerError
}
