package hawk

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Version is the Hawk protocol version carried in every canonical string.
const Version = "1"

// AuthType selects the canonical string layout.
type AuthType int

const (
	// AuthHeader is a client-built header request.
	AuthHeader AuthType = iota

	// AuthBewit is a URL-embedded bewit: no method, no nonce, and the
	// timestamp slot carries the expiry.
	AuthBewit

	// AuthCore is the server-side recomputation of a header request. It
	// shares the header tag so both sides derive the same string.
	AuthCore
)

// String returns the tag written into the canonical string.
func (t AuthType) String() string {
	switch t {
	case AuthBewit:
		return "bewit"
	default:
		return "header"
	}
}

// CalculateMAC computes the base64 MAC for the given request fields using
// the credential's key and algorithm. For AuthBewit the nonce and method are
// ignored and ts is the bewit expiry.
func CalculateMAC(cred *Credential, authType AuthType, ts int64, uri *url.URL, nonce, method, hash, ext string) (string, error) {
	if err := cred.Validate(); err != nil {
		return "", err
	}

	normalized, err := normalizedString(authType, ts, uri, nonce, method, hash, ext)
	if err != nil {
		return "", err
	}

	sum, err := cred.mac([]byte(normalized))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(sum), nil
}

// normalizedString builds the canonical string. Each field is terminated
// by a line feed, including the last one.
func normalizedString(authType AuthType, ts int64, uri *url.URL, nonce, method, hash, ext string) (string, error) {
	if uri == nil {
		return "", fmt.Errorf("%w: uri must not be nil", ErrMissingHost)
	}

	host, port, err := hostPort(uri)
	if err != nil {
		return "", err
	}

	if authType == AuthBewit {
		nonce = ""
		method = ""
	}

	var b strings.Builder
	b.Grow(128 + len(hash) + len(ext))

	b.WriteString("hawk.")
	b.WriteString(Version)
	b.WriteByte('.')
	b.WriteString(authType.String())
	b.WriteByte('\n')

	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(resource(uri))
	b.WriteByte('\n')
	b.WriteString(host)
	b.WriteByte('\n')
	b.WriteString(port)
	b.WriteByte('\n')
	b.WriteString(hash)
	b.WriteByte('\n')
	b.WriteString(ext)
	b.WriteByte('\n')

	return b.String(), nil
}

// resource returns the raw path and query as sent on the request line.
func resource(uri *url.URL) string {
	path := uri.EscapedPath()
	if path == "" {
		path = "/"
	}

	if uri.RawQuery != "" {
		return path + "?" + uri.RawQuery
	}

	return path
}

// hostPort returns the canonical host and port of uri. Hosts are lower-cased
// and converted to their ASCII form so that a Unicode and a punycode
// rendering of the same name produce the same MAC.
func hostPort(uri *url.URL) (string, string, error) {
	host := uri.Hostname()
	if host == "" {
		return "", "", ErrMissingHost
	}

	ascii, err := idna.Punycode.ToASCII(host)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrMissingHost, err)
	}

	port := uri.Port()
	if port == "" {
		switch strings.ToLower(uri.Scheme) {
		case "http", "ws":
			port = "80"
		case "https", "wss":
			port = "443"
		default:
			return "", "", fmt.Errorf("%w: %q", ErrMissingPort, uri.Scheme)
		}
	}

	return strings.ToLower(ascii), port, nil
}

// timeConstantEquals reports whether a and b are equal without leaking the
// position of the first difference.
func timeConstantEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
