// Package proxy provides the HTTP server that forwards requests to the
// upstreams selected by the routing rules.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/Semior001/hroxy/pkg/discovery"
	"github.com/Semior001/hroxy/pkg/proxy/middleware"
	"github.com/cappuccinotm/slogx"
)

//go:generate moq -out mocks/matcher.go -pkg mocks -skip-ensure -fmt goimports . Matcher

// Matcher selects the rule for the request path.
type Matcher interface {
	Match(path string) (discovery.Rule, error)
}

// Server is an HTTP server, forwarding requests to the upstreams.
type Server struct {
	version   string
	debug     bool
	timeout   time.Duration
	transport http.RoundTripper
	metrics   *Metrics

	matcher Matcher
	rp      *httputil.ReverseProxy
	http    *http.Server
}

// NewServer creates a new server.
func NewServer(m Matcher, opts ...Option) *Server {
	s := &Server{
		matcher:   m,
		timeout:   30 * time.Second,
		transport: defaultTransport(),
	}

	for _, opt := range opts {
		opt(s)
	}

	errLog := slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn)

	s.rp = &httputil.ReverseProxy{
		Rewrite:       s.rewrite,
		Transport:     s.transport,
		FlushInterval: -1, // flush immediately, responses may be streamed
		ErrorHandler:  s.upstreamError,
		ErrorLog:      errLog,
	}

	s.http = &http.Server{
		Handler: middleware.Wrap(http.HandlerFunc(s.handle),
			middleware.RequestID,
			middleware.Log(s.debug),
			middleware.Recoverer("{hroxy} panic"),
		),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          errLog,
	}

	return s
}

// Listen starts the server on the given address.
// Blocking call.
func (s *Server) Listen(addr string) (err error) {
	slog.Info("starting HTTP server",
		slog.String("addr", addr),
		slog.String("version", s.version),
		slog.Duration("timeout", s.timeout))
	defer func() { slog.Warn("HTTP server stopped", slogx.Error(err)) }()

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("register listener: %w", err)
	}

	if err = s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}

// Close stops the server, waiting for the in-flight requests to finish.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.Warn("failed to shutdown HTTP server gracefully", slogx.Error(err))
	}
}

// ServeHTTP handles the request the same way the listening server does.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.http.Handler.ServeHTTP(w, r) }

// unmatched labels requests that didn't match any rule.
const unmatched = "-"

type routeKey struct{}

// route is the decision made for a single request.
type route struct {
	rule    discovery.Rule
	path    string // original path
	rawPath string // original escaped path, if differs
	timeout time.Duration
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	rw := middleware.WrapResponseWriter(w)

	rule, err := s.matcher.Match(r.URL.Path)
	if err != nil {
		s.writeError(rw, r, unmatched, err)
		s.metrics.observe(unmatched, rw.Status(), time.Since(start))
		return
	}

	defer func() { s.metrics.observe(rule.DisplayName(), rw.Status(), time.Since(start)) }()

	rt := route{rule: rule, path: r.URL.Path, rawPath: r.URL.RawPath, timeout: s.timeout}
	if rule.Timeout > 0 {
		rt.timeout = rule.Timeout
	}

	if _, ok := rule.UpstreamPath(r.URL.Path); !ok {
		slog.WarnContext(ctx, "rewrite doesn't apply to the matched path, passing it through",
			slog.String("rule", rule.DisplayName()),
			slog.String("path", r.URL.Path),
			slog.String("rewrite", rule.Rewrite.String()))
	}

	if rt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.timeout)
		defer cancel()
	}

	s.rp.ServeHTTP(rw, r.WithContext(context.WithValue(ctx, routeKey{}, rt)))
}

// rewrite builds the upstream request out of the incoming one.
func (s *Server) rewrite(pr *httputil.ProxyRequest) {
	rt := pr.In.Context().Value(routeKey{}).(route)

	pr.Out.URL.Scheme = rt.rule.Target.Scheme
	pr.Out.URL.Host = rt.rule.Target.Host
	pr.Out.URL.Path, _ = rt.rule.UpstreamPath(rt.path)
	// RawPath is ignored by net/url if it doesn't encode Path
	pr.Out.URL.RawPath, _ = rt.rule.UpstreamPath(rt.rawPath)

	pr.Out.Host = "" // use the host of the upstream
	if rt.rule.PreserveHost {
		pr.Out.Host = pr.In.Host
	}

	// keep the chain of proxies, ReverseProxy drops those headers before Rewrite
	if v, ok := pr.In.Header["X-Forwarded-For"]; ok {
		pr.Out.Header["X-Forwarded-For"] = v
	}
	pr.SetXForwarded()

	// values set by a proxy in front of us describe the original request
	for _, h := range []string{"X-Forwarded-Host", "X-Forwarded-Proto", "Forwarded"} {
		if v, ok := pr.In.Header[h]; ok {
			pr.Out.Header[h] = v
		}
	}

	slog.DebugContext(pr.In.Context(), "forwarding request",
		slog.String("rule", rt.rule.DisplayName()),
		slog.String("method", pr.Out.Method),
		slog.String("url", pr.Out.URL.String()),
		slog.String("host", pr.Out.Host))
}

// upstreamError classifies the error of the upstream call.
func (s *Server) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	rt, _ := ctx.Value(routeKey{}).(route)
	target := ""
	if rt.rule.Target != nil {
		target = rt.rule.Target.String()
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = &UpstreamTimeoutError{Target: target, Path: rt.path, Timeout: rt.timeout, Err: err}
	case errors.Is(ctx.Err(), context.Canceled):
		s.metrics.upstreamError(rt.rule.DisplayName(), "canceled")
		slog.DebugContext(ctx, "client canceled the request",
			slog.String("rule", rt.rule.DisplayName()),
			slog.String("path", rt.path),
			slogx.Error(err))
		// nobody is there to read the response
		w.WriteHeader(499)
		return
	default:
		err = &UpstreamUnavailableError{Target: target, Path: rt.path, Err: err}
	}

	s.writeError(w, r, rt.rule.DisplayName(), err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, rule string, err error) {
	ctx := r.Context()

	var (
		noRoute     *discovery.NoRouteError
		unavailable *UpstreamUnavailableError
		timeout     *UpstreamTimeoutError
	)

	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &noRoute):
		code = http.StatusNotFound
		slog.InfoContext(ctx, "no route", slog.String("path", noRoute.Path))
	case errors.As(err, &unavailable):
		code = http.StatusBadGateway
		s.metrics.upstreamError(rule, "unavailable")
		slog.WarnContext(ctx, "upstream unavailable",
			slog.String("rule", rule),
			slog.String("target", unavailable.Target),
			slog.String("path", unavailable.Path),
			slogx.Error(unavailable.Err))
	case errors.As(err, &timeout):
		code = http.StatusGatewayTimeout
		s.metrics.upstreamError(rule, "timeout")
		slog.WarnContext(ctx, "upstream timed out",
			slog.String("rule", rule),
			slog.String("target", timeout.Target),
			slog.String("path", timeout.Path),
			slog.Duration("timeout", timeout.Timeout))
	default:
		slog.ErrorContext(ctx, "failed to handle request", slogx.Error(err))
	}

	http.Error(w, "{hroxy} "+err.Error(), code)
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
