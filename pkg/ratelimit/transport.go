package ratelimit

import (
	"net/http"
)

// Transport is an http.RoundTripper that waits on a Limiter before every
// request it forwards to Base. Requests answered by a cache layer above it
// never reach the limiter.
type Transport struct {
	Limiter *Limiter
	Base    http.RoundTripper
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(l *Limiter, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Limiter: l, Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return t.Base.RoundTrip(req)
}
