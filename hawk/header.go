package hawk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Scheme is the authorization scheme name.
const Scheme = "Hawk"

// Header field names.
const (
	FieldID    = "id"
	FieldTS    = "ts"
	FieldNonce = "nonce"
	FieldHash  = "hash"
	FieldExt   = "ext"
	FieldMAC   = "mac"
	FieldNTP   = "ntp"
)

var (
	whitespaceSplitter = regexp.MustCompile(`\s+`)
	fieldPattern       = regexp.MustCompile(`([^=]*)\s*=\s*"([^"]*)[,"\s]*`)
)

// AuthorizationFields maps Hawk header field names to their values.
type AuthorizationFields map[string]string

// Get returns the value of a field and whether it was present.
func (f AuthorizationFields) Get(name string) (string, bool) {
	v, ok := f[name]
	return v, ok
}

// SplitAuthorizationHeader parses a raw Hawk header value into its fields.
// On error no fields are returned.
func SplitAuthorizationHeader(raw string) (AuthorizationFields, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingHeader
	}

	parts := whitespaceSplitter.Split(raw, 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: expected a scheme and a field list", ErrMalformedHeader)
	}

	if !strings.EqualFold(parts[0], Scheme) {
		return nil, ErrNotHawk
	}

	matches := fieldPattern.FindAllStringSubmatch(parts[1], -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrMalformedHeader)
	}

	fields := make(AuthorizationFields, len(matches))
	for _, m := range matches {
		key := strings.Trim(m[1], ", \t")
		if key == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrMalformedHeader)
		}

		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrMalformedHeader, key)
		}

		fields[key] = m[2]
	}

	return fields, nil
}

// headerBuilder writes `Hawk k="v", k="v"` in the order fields are added.
type headerBuilder struct {
	b     strings.Builder
	count int
}

func newHeaderBuilder() *headerBuilder {
	h := &headerBuilder{}
	h.b.Grow(256)
	h.b.WriteString(Scheme)
	h.b.WriteByte(' ')

	return h
}

func (h *headerBuilder) add(key, value string) {
	if h.count > 0 {
		h.b.WriteString(", ")
	}

	h.b.WriteString(key)
	h.b.WriteString(`="`)
	h.b.WriteString(value)
	h.b.WriteByte('"')
	h.count++
}

func (h *headerBuilder) String() string {
	return h.b.String()
}

// checkFieldValue rejects values that would break the quoted header syntax.
func checkFieldValue(name, value string) error {
	if strings.ContainsAny(value, "\"\\") {
		return fmt.Errorf("%w: %s must not contain quotes or backslashes", ErrInvalidFieldValue, name)
	}

	return nil
}

// Challenge is the content of a WWW-Authenticate header sent after a failed
// authentication.
type Challenge struct {
	// TS is the server time in seconds since the epoch.
	TS int64

	// NTP names the time source the server synchronizes against.
	NTP string
}

// String formats the challenge as a WWW-Authenticate value.
func (c Challenge) String() string {
	h := newHeaderBuilder()
	h.add(FieldTS, strconv.FormatInt(c.TS, 10))
	h.add(FieldNTP, c.NTP)

	return h.String()
}

// ParseAuthenticateHeader parses a Hawk WWW-Authenticate value.
func ParseAuthenticateHeader(raw string) (Challenge, error) {
	fields, err := SplitAuthorizationHeader(raw)
	if err != nil {
		return Challenge{}, err
	}

	tsRaw, ok := fields[FieldTS]
	if !ok {
		return Challenge{}, fmt.Errorf("%w: %s", ErrMissingField, FieldTS)
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return Challenge{}, ErrTimestampFormat
	}

	return Challenge{TS: ts, NTP: fields[FieldNTP]}, nil
}
