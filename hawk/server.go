package hawk

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vitalvas/hawk/noncecache"
)

// Defaults applied by NewServer to zero-valued configuration fields.
const (
	DefaultTimestampSkew = 60 * time.Second
	DefaultNTPServer     = "pool.ntp.org"
)

// Mode names the authentication protocol used for a request.
type Mode string

const (
	// ModeHeader is authentication through the Authorization header.
	ModeHeader Mode = "header"

	// ModeBewit is authentication through a bewit query parameter.
	ModeBewit Mode = "bewit"
)

// Observer receives the outcome of every authentication attempt. err is nil
// on success.
type Observer interface {
	ObserveAuthentication(mode Mode, err error, elapsed time.Duration)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// TimestampSkew is the largest accepted difference between a request
	// timestamp and the server clock. Defaults to DefaultTimestampSkew.
	TimestampSkew time.Duration

	// NTPServer names the time source advertised in challenges. Defaults to
	// DefaultNTPServer.
	NTPServer string

	// NonceCache records nonces for replay detection. Its entries must live
	// for twice TimestampSkew. When nil an in-memory cache with that TTL is
	// created and owned by the server.
	NonceCache noncecache.Cache

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger receives authentication outcomes. Defaults to a no-op logger.
	Logger *zap.Logger

	// Observer, when set, is notified of every authentication outcome.
	Observer Observer
}

// Server verifies Hawk-authenticated requests. It is not an HTTP server; it
// provides the checks an HTTP server runs. A Server is safe for concurrent
// use.
type Server struct {
	skew      time.Duration
	ntp       string
	nonces    noncecache.Cache
	ownsCache bool
	now       func() time.Time
	logger    *zap.Logger
	observer  Observer
}

// NewServer creates a Server, filling unset configuration with defaults.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		skew:     cfg.TimestampSkew,
		ntp:      cfg.NTPServer,
		nonces:   cfg.NonceCache,
		now:      cfg.Now,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}

	if s.skew <= 0 {
		s.skew = DefaultTimestampSkew
	}

	if s.ntp == "" {
		s.ntp = DefaultNTPServer
	}

	if s.nonces == nil {
		s.nonces = noncecache.NewMemory(NonceTTL(s.skew))
		s.ownsCache = true
	}

	if s.now == nil {
		s.now = time.Now
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	return s
}

// NonceTTL returns the lifetime a nonce must be remembered for under the
// given skew tolerance: long enough that any timestamp still inside the
// tolerance cannot outlive its nonce.
func NonceTTL(skew time.Duration) time.Duration {
	return 2 * skew
}

// TimestampSkew returns the configured skew tolerance.
func (s *Server) TimestampSkew() time.Duration {
	return s.skew
}

// Close releases the nonce cache when the server created it.
func (s *Server) Close() error {
	if s.ownsCache {
		return s.nonces.Close()
	}

	return nil
}

// Authenticate verifies a header-mode request. fields is the parsed
// Authorization header; uri and method describe the request as received.
func (s *Server) Authenticate(ctx context.Context, cred *Credential, uri *url.URL, method string, fields AuthorizationFields) (err error) {
	start := time.Now()
	defer func() { s.observe(ModeHeader, fields[FieldID], start, err) }()

	for _, name := range []string{FieldTS, FieldNonce, FieldID, FieldMAC} {
		if v, ok := fields[name]; !ok || v == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}

	if err := cred.Validate(); err != nil {
		return err
	}

	if !timeConstantEquals(fields[FieldID], cred.ID) {
		return ErrUnknownID
	}

	ts, err := s.checkTimestamp(fields[FieldTS])
	if err != nil {
		return err
	}

	if err := s.checkNonce(ctx, fields[FieldNonce]); err != nil {
		return err
	}

	mac, err := CalculateMAC(cred, AuthCore, ts, uri, fields[FieldNonce], method, fields[FieldHash], fields[FieldExt])
	if err != nil {
		return err
	}

	if !timeConstantEquals(mac, fields[FieldMAC]) {
		return ErrMACMismatch
	}

	return nil
}

// AuthenticateBewit verifies a request authorized by the bewit embedded in
// uri.
func (s *Server) AuthenticateBewit(cred *Credential, uri *url.URL) (err error) {
	start := time.Now()
	id := ""
	defer func() { s.observe(ModeBewit, id, start, err) }()

	raw, err := ExtractBewit(uri)
	if err != nil {
		return err
	}

	bewit, err := DecodeBewit(raw)
	if err != nil {
		return err
	}

	id = bewit.ID

	if err := cred.Validate(); err != nil {
		return err
	}

	if !timeConstantEquals(bewit.ID, cred.ID) {
		return ErrUnknownID
	}

	if s.now().Unix() > bewit.Expiry {
		return ErrBewitExpired
	}

	stripped, err := StripBewit(uri)
	if err != nil {
		return err
	}

	mac, err := CalculateMAC(cred, AuthBewit, bewit.Expiry, stripped, "", "", "", bewit.Ext)
	if err != nil {
		return err
	}

	if !timeConstantEquals(mac, bewit.MAC) {
		return ErrMACMismatch
	}

	return nil
}

// SplitAuthorizationHeader parses a raw Authorization header value.
func (s *Server) SplitAuthorizationHeader(raw string) (AuthorizationFields, error) {
	return SplitAuthorizationHeader(raw)
}

// Challenge returns the challenge sent to clients after a failed
// authentication.
func (s *Server) Challenge() Challenge {
	return Challenge{TS: s.now().Unix(), NTP: s.ntp}
}

// GenerateAuthenticateHeader returns the WWW-Authenticate header content
// carrying the server time, letting clients correct their clock.
func (s *Server) GenerateAuthenticateHeader() string {
	return s.Challenge().String()
}

func (s *Server) checkTimestamp(raw string) (int64, error) {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrTimestampFormat
	}

	// Full precision: a nonce expires NonceTTL after its sub-second
	// insertion time and must not outlive the timestamp window.
	now := s.now()
	if d := now.Sub(time.Unix(ts, 0)); d > s.skew || d < -s.skew {
		return 0, fmt.Errorf("%w: ts=%d now=%d", ErrStaleTimestamp, ts, now.Unix())
	}

	return ts, nil
}

func (s *Server) checkNonce(ctx context.Context, nonce string) error {
	seen, err := s.nonces.CheckAndMark(ctx, nonce)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNonceCache, err)
	}

	if seen {
		return ErrReplay
	}

	return nil
}

func (s *Server) observe(mode Mode, id string, start time.Time, err error) {
	elapsed := time.Since(start)

	if err == nil {
		s.logger.Debug("hawk authentication succeeded",
			zap.String("mode", string(mode)),
			zap.String("id", id),
			zap.Duration("elapsed", elapsed),
		)
	} else {
		level := s.logger.Info
		if IsServerError(err) {
			level = s.logger.Error
		}

		level("hawk authentication failed",
			zap.String("mode", string(mode)),
			zap.String("id", id),
			zap.String("kind", KindOf(err).String()),
			zap.Error(err),
		)
	}

	if s.observer != nil {
		s.observer.ObserveAuthentication(mode, err, elapsed)
	}
}
