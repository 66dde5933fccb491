package httpclient

import (
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single request when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Options tune the shared client.
type Options struct {
	// Timeout bounds a whole request including reading the body.
	Timeout time.Duration
	// MaxConns is the expected concurrency; idle connections per host are
	// kept for at least this many requests.
	MaxConns int
	// HTTP2 speaks HTTP/2 only: negotiated over TLS and with prior
	// knowledge over cleartext.
	HTTP2 bool
}

// NewClient returns the client shared by every VU of a run.
func NewClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxConns := opts.MaxConns
	if maxConns < 32 {
		maxConns = 32
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 120 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     opts.HTTP2,
		DisableCompression:    true,
		MaxIdleConns:          maxConns * 2,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if opts.HTTP2 {
		protocols := new(http.Protocols)
		protocols.SetHTTP2(true)
		protocols.SetUnencryptedHTTP2(true)
		transport.Protocols = protocols
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
