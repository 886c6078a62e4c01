// Package httpkit provides shared HTTP client construction for the agent
// session and the coach REST client. It sets explicit dial and TLS
// timeouts, limits idle connections, and injects the User-Agent and
// bearer token headers on every request.
package httpkit

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Default timeouts and connection pool limits for the shared transport.
const (
	// DefaultDialTimeout is the maximum time to establish a TCP connection.
	DefaultDialTimeout = 10 * time.Second

	// DefaultKeepAlive is the interval between TCP keep-alive probes.
	DefaultKeepAlive = 30 * time.Second

	// DefaultTLSHandshakeTimeout is the maximum time for the TLS handshake.
	DefaultTLSHandshakeTimeout = 10 * time.Second

	// DefaultIdleConnTimeout is how long idle connections stay in the pool.
	DefaultIdleConnTimeout = 90 * time.Second

	// DefaultMaxIdleConns is the total number of idle connections across all hosts.
	DefaultMaxIdleConns = 20

	// DefaultMaxIdleConnsPerHost is the per-host idle connection limit.
	DefaultMaxIdleConnsPerHost = 5

	// DefaultTimeout bounds plain request/response calls.
	DefaultTimeout = 30 * time.Second

	// ErrorBodyLimit caps how much of a failed response body is kept.
	ErrorBodyLimit = 2048
)

// DefaultUserAgent is sent when no other User-Agent is configured.
var DefaultUserAgent = "coachrun"

// ClientOption configures a Client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout   time.Duration
	userAgent string
	token     func() string
	transport http.RoundTripper
}

// WithTimeout sets the overall request timeout on the http.Client.
// A zero value disables the timeout, which streaming responses need.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// WithBearerToken sends "Authorization: Bearer <token>" when the token is
// non-empty.
func WithBearerToken(token string) ClientOption {
	return func(c *clientConfig) { c.token = func() string { return token } }
}

// WithTokenSource reads the bearer token per request, so a rotated token
// file is picked up without rebuilding the client.
func WithTokenSource(fn func() string) ClientOption {
	return func(c *clientConfig) { c.token = fn }
}

// WithTransport overrides the default shared transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *clientConfig) { c.transport = rt }
}

// NewTransport creates an http.Transport with sensible defaults.
// There is no response header timeout: the agent holds the response open
// while it thinks, and the run deadline bounds the wait instead.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
	}
}

// NewClient builds an *http.Client with the shared transport and the
// configured headers.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
	}
	for _, o := range opts {
		o(cfg)
	}

	rt := cfg.transport
	if rt == nil {
		rt = NewTransport()
	}
	rt = &headerTransport{base: rt, ua: cfg.userAgent, token: cfg.token}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: rt,
	}
}

// headerTransport injects the User-Agent and Authorization headers unless
// the request already carries them.
type headerTransport struct {
	base  http.RoundTripper
	ua    string
	token func() string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var token string
	if t.token != nil {
		token = t.token()
	}
	needUA := t.ua != "" && req.Header.Get("User-Agent") == ""
	needAuth := token != "" && req.Header.Get("Authorization") == ""
	if needUA || needAuth {
		// Clone the request to avoid mutating the original, per RoundTripper contract.
		req = req.Clone(req.Context())
		if needUA {
			req.Header.Set("User-Agent", t.ua)
		}
		if needAuth {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return t.base.RoundTrip(req)
}

// DrainAndClose reads up to limit bytes from rc and closes it.
// Use to ensure HTTP connections are returned to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes from rc for error messages,
// then drains and closes the remainder to allow connection reuse.
// Returns an empty string if rc is nil.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}

// StatusError formats a non-2xx response as "HTTP <status>: <body>",
// consuming the body.
func StatusError(resp *http.Response) error {
	body := ReadErrorBody(resp.Body, ErrorBodyLimit)
	if body == "" {
		body = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
}
