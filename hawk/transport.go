package hawk

import (
	"io"
	"net/http"
	"time"
)

// clockSyncThreshold is the smallest disagreement between a challenge and
// the client clock that triggers a clock sync and a retry.
const clockSyncThreshold = 2 * time.Second

// TransportConfig configures request signing in a Transport.
type TransportConfig struct {
	// Ext is application data attached to every request.
	Ext string

	// SignPayload includes a hash of the request body and its content type
	// in the MAC.
	SignPayload bool
}

// Transport is an http.RoundTripper that adds a Hawk Authorization header
// to outgoing requests whose path the client is valid for.
//
// When the server rejects a request with a Hawk challenge showing that the
// client clock disagrees with the server, the transport syncs the client
// clock and retries the request once, provided the body can be replayed.
type Transport struct {
	base   http.RoundTripper
	client *Client
	config TransportConfig
}

// NewTransport creates a signing Transport that delegates to base after
// signing each request. When base is nil, a clone of http.DefaultTransport
// is used.
func NewTransport(base *http.Transport, client *Client, cfg TransportConfig) *Transport {
	var rt http.RoundTripper
	if base != nil {
		rt = base
	} else {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}

	return &Transport{
		base:   rt,
		client: client,
		config: cfg,
	}
}

// RoundTrip signs the request and delegates to the base transport. The
// caller's request is never modified.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.client == nil {
		return nil, ErrNoClient
	}

	if !t.client.IsValidFor(req.URL.Path) {
		return t.base.RoundTrip(req)
	}

	// Every attempt sends a fresh copy from GetBody.
	if req.Body != nil && req.GetBody != nil {
		defer req.Body.Close()
	}

	resp, err := t.send(req)
	if err != nil {
		return nil, err
	}

	if !t.shouldRetry(req, resp) {
		return resp, nil
	}

	if err := t.client.SyncClock(resp.Header.Get("WWW-Authenticate")); err != nil {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return t.send(req)
}

// send clones req, signs the clone and sends it.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}

		clone.Body = body
	}

	hash := ""
	if t.config.SignPayload {
		payload, err := readAndRestoreBody(clone)
		if err != nil {
			return nil, err
		}

		hash, err = PayloadHash(t.client.Credential().Algorithm, clone.Header.Get("Content-Type"), payload)
		if err != nil {
			return nil, err
		}
	}

	// The server sees the Host header, which may differ from the URL.
	target := *clone.URL
	if clone.Host != "" {
		target.Host = clone.Host
	}

	header, err := t.client.GenerateAuthorizationHeader(&target, clone.Method, hash, t.config.Ext)
	if err != nil {
		return nil, err
	}

	clone.Header.Set("Authorization", header)

	return t.base.RoundTrip(clone)
}

// shouldRetry reports whether resp is a Hawk challenge caused by clock
// disagreement and req can be sent again.
func (t *Transport) shouldRetry(req *http.Request, resp *http.Response) bool {
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusBadRequest {
		return false
	}

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return false
	}

	ch, err := ParseAuthenticateHeader(resp.Header.Get("WWW-Authenticate"))
	if err != nil {
		return false
	}

	drift := time.Duration(ch.TS-t.client.timestamp()) * time.Second
	if drift < 0 {
		drift = -drift
	}

	return drift >= clockSyncThreshold
}
