package otel

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient returns a client whose requests carry trace context and emit
// client spans. headerTimeout bounds the wait for response headers only, so
// long document downloads are limited by the caller's context instead of a
// whole-request deadline. A non-positive headerTimeout disables the bound.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if headerTimeout > 0 {
		base.ResponseHeaderTimeout = headerTimeout
	}
	return &http.Client{Transport: otelhttp.NewTransport(base)}
}

// Handler wraps h so every request to the local API opens a server span.
func Handler(h http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(h, operation)
}
