package hawk

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// BewitParam is the query parameter carrying a bewit.
const BewitParam = "bewit"

const bewitSeparator = `\`

var bewitPattern = regexp.MustCompile(`(?:^|&)bewit=([^&]*)`)

// Bewit is a URL-embeddable, time-limited authentication token.
type Bewit struct {
	ID     string
	Expiry int64
	MAC    string
	Ext    string
}

// Encode returns the unpadded base64url form of the bewit.
func (b Bewit) Encode() string {
	raw := strings.Join([]string{b.ID, strconv.FormatInt(b.Expiry, 10), b.MAC, b.Ext}, bewitSeparator)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeBewit decodes an encoded bewit. Both the URL-safe and the standard
// base64 alphabets are accepted, with or without padding.
func DecodeBewit(encoded string) (Bewit, error) {
	if unescaped, err := url.PathUnescape(encoded); err == nil {
		encoded = unescaped
	}

	normalized := strings.TrimRight(encoded, "=")
	normalized = strings.NewReplacer("+", "-", "/", "_").Replace(normalized)

	decoded, err := base64.RawURLEncoding.DecodeString(normalized)
	if err != nil {
		return Bewit{}, fmt.Errorf("%w: invalid base64", ErrBewitMalformed)
	}

	fields := strings.Split(string(decoded), bewitSeparator)
	if len(fields) != 4 {
		return Bewit{}, fmt.Errorf("%w: expected 4 fields, got %d", ErrBewitMalformed, len(fields))
	}

	expiry, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Bewit{}, fmt.Errorf("%w: expiry is not seconds since the epoch", ErrBewitMalformed)
	}

	return Bewit{
		ID:     fields[0],
		Expiry: expiry,
		MAC:    fields[2],
		Ext:    fields[3],
	}, nil
}

// ExtractBewit returns the raw bewit query parameter of uri.
func ExtractBewit(uri *url.URL) (string, error) {
	if uri == nil {
		return "", fmt.Errorf("%w: uri must not be nil", ErrBewitMissing)
	}

	m := bewitPattern.FindStringSubmatch(uri.RawQuery)
	if m == nil {
		return "", ErrBewitMissing
	}

	return m[1], nil
}

// StripBewit returns a copy of uri with the bewit parameter removed and the
// remaining parameters left intact, whatever position the bewit held.
func StripBewit(uri *url.URL) (*url.URL, error) {
	if uri == nil {
		return nil, fmt.Errorf("%w: uri must not be nil", ErrStripBewit)
	}

	params := strings.Split(uri.RawQuery, "&")
	kept := make([]string, 0, len(params))
	removed := false

	for _, p := range params {
		if !removed && strings.HasPrefix(p, BewitParam+"=") {
			removed = true
			continue
		}

		kept = append(kept, p)
	}

	stripped := *uri
	stripped.RawQuery = strings.Join(kept, "&")
	stripped.ForceQuery = false

	rebuilt, err := url.Parse(stripped.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStripBewit, err)
	}

	return rebuilt, nil
}

// appendBewit returns a copy of uri with the bewit appended as the last
// query parameter.
func appendBewit(uri *url.URL, encoded string) *url.URL {
	signed := *uri
	param := BewitParam + "=" + encoded

	if signed.RawQuery == "" {
		signed.RawQuery = param
	} else {
		signed.RawQuery += "&" + param
	}

	return &signed
}
