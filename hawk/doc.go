// Package hawk implements the Hawk HTTP authentication scheme: a shared-secret
// MAC scheme where the client proves possession of a key without sending it,
// and the server checks authenticity, freshness and non-replay.
//
// # Credentials
//
// A Credential holds a key identifier, the shared secret and the MAC
// algorithm. Credentials come from the caller's own store; the package only
// consumes them:
//
//	cred, err := hawk.NewCredential("dh37fgj492je", secret, hawk.SHA256)
//
// # Signing Requests
//
// A Client builds the Authorization header value for a request:
//
//	client, err := hawk.NewClient(cred)
//	header, err := client.GenerateAuthorizationHeader(uri, http.MethodGet, "", "")
//	req.Header.Set("Authorization", header)
//
// NewTransport wraps this into an http.RoundTripper:
//
//	httpClient := &http.Client{
//	    Transport: hawk.NewTransport(nil, client, hawk.TransportConfig{SignPayload: true}),
//	}
//
// # Verifying Requests
//
// A Server checks the timestamp against the skew tolerance, rejects replayed
// nonces and compares MACs in constant time:
//
//	server := hawk.NewServer(hawk.ServerConfig{TimestampSkew: time.Minute})
//	fields, err := hawk.SplitAuthorizationHeader(req.Header.Get("Authorization"))
//	err = server.Authenticate(ctx, cred, hawk.RequestURI(req), req.Method, fields)
//
// Middleware does the same for an http.Handler, resolving credentials by key
// identifier and answering failures with a WWW-Authenticate challenge:
//
//	mw, err := hawk.Middleware(hawk.MiddlewareConfig{
//	    Server:   server,
//	    Resolver: credentials.Resolve,
//	})
//
// # Bewits
//
// A bewit is a time-limited token embedded in a URL, for links handed out
// without a way to set headers:
//
//	signed, err := client.SignURL(uri, 10*time.Minute, "")
//	err = server.AuthenticateBewit(cred, signed)
//
// Bewit mode has no nonce and no skew window: the expiry chosen by the
// issuer is the only deadline.
//
// # Errors
//
// Every failure is an *Error with a Kind. KindBad and KindAuthentication are
// data errors the caller can correct; KindServer is an environment failure.
// Use errors.Is with the package sentinels for the cause and StatusCode for
// the HTTP response.
package hawk
