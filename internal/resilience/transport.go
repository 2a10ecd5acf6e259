package resilience

import "net/http"

// Transport gates outbound provider calls behind a circuit breaker. A 5xx
// response or a transport error counts against the provider; everything
// else, including provider rejections of bad requests, counts as healthy.
type Transport struct {
	Base    http.RoundTripper
	Breaker *Breaker
}

// RoundTrip implements http.RoundTripper.
func (t Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Breaker == nil {
		return base.RoundTrip(req)
	}

	ctx := req.Context()
	if !t.Breaker.Allow(ctx) {
		return nil, ErrOpenCircuit
	}
	resp, err := base.RoundTrip(req)
	t.Breaker.Report(ctx, err == nil && resp.StatusCode < http.StatusInternalServerError)
	return resp, err
}
