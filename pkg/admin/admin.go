// Package admin provides the diagnostics HTTP server: metrics, health
// and the dump of the active routing rules.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Semior001/hroxy/pkg/discovery"
	"github.com/Semior001/hroxy/pkg/proxy/middleware"
	"github.com/cappuccinotm/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:generate moq -out mock_rules.go -fmt goimports . Rules

// Rules provides the active rule set.
type Rules interface {
	RuleSet() *discovery.RuleSet
}

// Server serves the diagnostics endpoints.
type Server struct {
	rules    Rules
	gatherer prometheus.Gatherer
	version  string
	debug    bool

	http *http.Server
}

// Option is a functional option for the admin server.
type Option func(*Server)

// Version sets the version reported in the response headers.
func Version(v string) Option { return func(s *Server) { s.version = v } }

// Debug enables request logging.
func Debug() Option { return func(s *Server) { s.debug = true } }

// WithGatherer sets the source of the exposed metrics,
// prometheus.DefaultGatherer by default.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// NewServer makes a new admin server.
func NewServer(rules Rules, opts ...Option) *Server {
	s := &Server{rules: rules, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /rules", s.listRules)

	s.http = &http.Server{
		Handler: middleware.Wrap(mux,
			middleware.RequestID,
			middleware.Maybe(s.debug, middleware.Log(true)),
			middleware.AppInfo("hroxy", "Semior001", s.version),
			middleware.Recoverer("{hroxy admin} panic"),
		),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	return s
}

// Listen starts the server on the given address.
// Blocking call.
func (s *Server) Listen(addr string) (err error) {
	slog.Info("starting admin server", slog.String("addr", addr))
	defer func() { slog.Warn("admin server stopped", slogx.Error(err)) }()

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("register listener: %w", err)
	}

	if err = s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}

// Close stops the server.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.Warn("failed to shutdown admin server gracefully", slogx.Error(err))
	}
}

// ServeHTTP serves the admin routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.http.Handler.ServeHTTP(w, r) }

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.rules.RuleSet() == nil {
		http.Error(w, "rules are not loaded", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

type rewriteView struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ruleView struct {
	Name         string       `json:"name,omitempty"`
	Prefix       string       `json:"prefix"`
	Target       string       `json:"target"`
	Rewrite      *rewriteView `json:"rewrite,omitempty"`
	PreserveHost bool         `json:"preserve_host,omitempty"`
	Timeout      string       `json:"timeout,omitempty"`
}

type rulesView struct {
	Version  uint64     `json:"version"`
	LoadedAt time.Time  `json:"loaded_at"`
	Rules    []ruleView `json:"rules"`
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rs := s.rules.RuleSet()
	if rs == nil {
		http.Error(w, "rules are not loaded", http.StatusServiceUnavailable)
		return
	}

	resp := rulesView{Version: rs.Version(), LoadedAt: rs.LoadedAt(), Rules: []ruleView{}}
	for _, rule := range rs.Rules() {
		v := ruleView{Name: rule.Name, Prefix: rule.Prefix, PreserveHost: rule.PreserveHost}
		if rule.Target != nil {
			v.Target = rule.Target.String()
		}
		if rule.Rewrite.From != "" {
			v.Rewrite = &rewriteView{From: rule.Rewrite.From, To: rule.Rewrite.To}
		}
		if rule.Timeout > 0 {
			v.Timeout = rule.Timeout.String()
		}
		resp.Rules = append(resp.Rules, v)
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		slog.WarnContext(r.Context(), "failed to write rules", slogx.Error(err))
	}
}
