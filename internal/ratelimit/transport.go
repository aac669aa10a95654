package ratelimit

import "net/http"

// KeyFunc derives the limiter key for an outgoing request.
type KeyFunc func(*http.Request) string

// HostKey keys requests by host.
func HostKey(req *http.Request) string {
	return req.URL.Host
}

// Transport is an http.RoundTripper that waits for admission before
// delegating to Base.
type Transport struct {
	Limiter *Limiter
	Key     KeyFunc
	Base    http.RoundTripper
}

// NewTransport wraps base (nil means http.DefaultTransport).
func NewTransport(l *Limiter, key KeyFunc, base http.RoundTripper) *Transport {
	if key == nil {
		key = HostKey
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Limiter: l, Key: key, Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(req.Context(), t.Key(req)); err != nil {
		return nil, err
	}
	return t.Base.RoundTrip(req)
}
