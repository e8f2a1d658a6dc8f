package proxy

import (
	"net/http"
	"time"
)

// Option is a functional option for the server.
type Option func(*Server)

// Version sets the version of the server.
func Version(v string) Option {
	return func(s *Server) { s.version = v }
}

// Debug enables the debug mode, the request and response headers are logged.
func Debug() Option {
	return func(s *Server) { s.debug = true }
}

// Timeout sets the default forwarding deadline for rules without their own.
// Zero disables the deadline.
func Timeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithTransport sets the transport used to reach the upstreams.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Server) { s.transport = rt }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}
