package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/cappuccinotm/slogx"
	"github.com/samber/lo"
)

//go:generate moq -out mock_provider.go -fmt goimports . Provider

// Service provides routing rules, merged from all providers.
// The active rule set is replaced as a whole on each update,
// readers never observe a partially updated set.
type Service struct {
	Providers []Provider

	// StopOnError stops the Run loop on the first failed update,
	// otherwise the failure is logged and the previous rule set stays active.
	StopOnError bool

	// Metrics, if set, receives the rule set updates.
	Metrics *Metrics

	active  atomic.Pointer[RuleSet]
	version atomic.Uint64
}

// Load builds the rule set from all providers and activates it.
// It is meant to be called once before serving requests,
// the returned error is a ConfigError if the rules are inconsistent.
func (s *Service) Load(ctx context.Context) error {
	rs, err := s.build(ctx)
	if err != nil {
		s.Metrics.reloaded(false)
		return err
	}

	s.activate(ctx, rs)
	return nil
}

// Run starts a blocking loop that updates the routing rules
// on the signals, received from providers.
func (s *Service) Run(ctx context.Context) (err error) {
	slog.InfoContext(ctx, "starting discovery service")
	defer func() { slog.WarnContext(ctx, "discovery service stopped", slogx.Error(err)) }()

	chs := make([]<-chan string, 0, len(s.Providers))
	for _, p := range s.Providers {
		chs = append(chs, p.Events(ctx))
	}

	ch := lo.FanIn(0, chs...)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				// all providers are done, nothing will change anymore
				<-ctx.Done()
				return ctx.Err()
			}

			slog.DebugContext(ctx, "new event update received", slog.String("event", ev))

			rs, err := s.build(ctx)
			if err != nil {
				s.Metrics.reloaded(false)
				if s.StopOnError {
					return fmt.Errorf("update rules on event %q: %w", ev, err)
				}

				slog.ErrorContext(ctx, "failed to update rules, keeping the previous rule set",
					slog.String("event", ev),
					slog.Uint64("active_version", s.RuleSet().Version()),
					slogx.Error(err))
				continue
			}

			if rs.sameRules(s.RuleSet()) {
				s.Metrics.reloaded(true)
				slog.DebugContext(ctx, "rules didn't change, keeping the active rule set",
					slog.String("event", ev),
					slog.Uint64("active_version", s.RuleSet().Version()))
				continue
			}

			s.activate(ctx, rs)
		}
	}
}

// RuleSet returns the active rule set. It returns nil if no rule set
// was loaded yet.
func (s *Service) RuleSet() *RuleSet { return s.active.Load() }

// Match matches the request path against the active rule set.
func (s *Service) Match(path string) (Rule, error) {
	return s.RuleSet().Match(path)
}

func (s *Service) build(ctx context.Context) (*RuleSet, error) {
	var rules []Rule
	sources := map[string]string{} // prefix -> provider name
	for _, p := range s.Providers {
		rs, err := p.Rules(ctx)
		if err != nil {
			var cerr *ConfigError
			if errors.As(err, &cerr) && cerr.Source == "" {
				cerr.Source = p.Name()
				return nil, cerr
			}
			return nil, &ConfigError{Source: p.Name(), Reason: "get rules", Err: err}
		}

		for _, r := range rs {
			if src, ok := sources[r.Prefix]; ok && src != p.Name() {
				return nil, &ConfigError{
					Source: p.Name(),
					Rule:   r.DisplayName(),
					Reason: fmt.Sprintf("prefix %q is already declared by %s", r.Prefix, src),
				}
			}
			sources[r.Prefix] = p.Name()
		}

		rules = append(rules, rs...)
	}

	rs, err := NewRuleSet(rules)
	if err != nil {
		return nil, err
	}

	for _, r := range rules {
		if r.Rewrite.From != "" && !strings.HasPrefix(r.Prefix, r.Rewrite.From) {
			slog.WarnContext(ctx, "rewrite doesn't cover the whole prefix, some paths will be passed through",
				slog.String("rule", r.DisplayName()),
				slog.String("prefix", r.Prefix),
				slog.String("rewrite", r.Rewrite.String()))
		}
	}

	return rs, nil
}

func (s *Service) activate(ctx context.Context, rs *RuleSet) {
	rs.version = s.version.Add(1)
	s.active.Store(rs)
	s.Metrics.reloaded(true)
	s.Metrics.activated(rs)

	slog.InfoContext(ctx, "rule set activated",
		slog.Uint64("version", rs.version),
		slog.Int("rules", rs.Len()))

	for _, r := range rs.rules {
		slog.DebugContext(ctx, "rule", slog.String("rule", r.String()))
	}
}
