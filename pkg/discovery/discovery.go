// Package discovery provides the routing rules and the matcher that selects
// an upstream for an HTTP request path.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Provider provides routing rules for the Service.
type Provider interface {
	// Name returns the name of the provider.
	Name() string

	// Events returns the events of the routing rules.
	// It returns the name of the provider to update the routing rules.
	Events(ctx context.Context) <-chan string

	// Rules returns the routing rules declared by the provider.
	Rules(ctx context.Context) ([]Rule, error)
}

// Rule is a routing rule for the Service.
type Rule struct {
	// Name is an optional name of the rule, used in logs and metrics.
	// Defaults to the prefix.
	Name string

	// Prefix is a literal path prefix, matched against the raw request path.
	Prefix string

	// Target is the origin (scheme, host and port) of the upstream.
	Target *url.URL

	// Rewrite defines how the request path is changed before forwarding.
	Rewrite Rewrite

	// PreserveHost keeps the client-facing Host header instead of
	// replacing it with the upstream's host.
	PreserveHost bool

	// Timeout overrides the forwarding deadline for this rule, if set.
	Timeout time.Duration
}

// String returns the short description of the rule.
func (r Rule) String() string {
	sb := &strings.Builder{}
	_, _ = sb.WriteString("(")
	_, _ = sb.WriteString(r.DisplayName())
	_, _ = sb.WriteString("; ")
	_, _ = sb.WriteString(r.Prefix)
	_, _ = sb.WriteString(" -> ")
	if r.Target != nil {
		_, _ = sb.WriteString(r.Target.String())
	}
	if r.Rewrite.From != "" {
		_, _ = sb.WriteString("; rewrite ")
		_, _ = sb.WriteString(r.Rewrite.String())
	}
	_, _ = sb.WriteString(")")
	return sb.String()
}

// DisplayName returns the name of the rule, or its prefix, if the name is empty.
func (r Rule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Prefix
}

// UpstreamPath returns the path to send to the upstream.
// ok is false when the rewrite didn't apply to the path and
// the path was passed through unchanged.
func (r Rule) UpstreamPath(path string) (upstreamPath string, ok bool) {
	return r.Rewrite.Apply(path)
}

// Rewrite replaces the leading From of the path with To.
// Zero value is a passthrough.
type Rewrite struct {
	From string
	To   string
}

// Apply returns the rewritten path. If From is empty, the path is returned
// as is. If the path doesn't start with From, the path is returned as is
// and ok is false.
func (rw Rewrite) Apply(path string) (res string, ok bool) {
	if rw.From == "" {
		return path, true
	}

	if !strings.HasPrefix(path, rw.From) {
		return path, false
	}

	return rw.To + path[len(rw.From):], true
}

// String returns "from→to" representation of the rewrite.
func (rw Rewrite) String() string {
	return fmt.Sprintf("%s→%s", rw.From, rw.To)
}

// equal reports whether both rules route the same way.
func (r Rule) equal(o Rule) bool {
	if (r.Target == nil) != (o.Target == nil) {
		return false
	}
	if r.Target != nil && r.Target.String() != o.Target.String() {
		return false
	}
	return r.Name == o.Name &&
		r.Prefix == o.Prefix &&
		r.Rewrite == o.Rewrite &&
		r.PreserveHost == o.PreserveHost &&
		r.Timeout == o.Timeout
}

func (r Rule) validate() error {
	switch {
	case r.Prefix == "":
		return fmt.Errorf("empty prefix")
	case !strings.HasPrefix(r.Prefix, "/"):
		return fmt.Errorf("prefix %q must start with '/'", r.Prefix)
	case r.Timeout < 0:
		return fmt.Errorf("negative timeout %s", r.Timeout)
	case r.Rewrite.From == "" && r.Rewrite.To != "":
		return fmt.Errorf("rewrite to %q has an empty source", r.Rewrite.To)
	}

	return ValidateOrigin(r.Target)
}

// ValidateOrigin checks that the URL is an absolute http(s) origin
// without path, query or fragment.
func ValidateOrigin(u *url.URL) error {
	switch {
	case u == nil:
		return fmt.Errorf("empty target")
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("target %q: unsupported scheme %q", u.String(), u.Scheme)
	case u.Host == "":
		return fmt.Errorf("target %q: empty host", u.String())
	case u.Path != "" && u.Path != "/":
		return fmt.Errorf("target %q: origin must not contain a path", u.String())
	case u.RawQuery != "" || u.Fragment != "":
		return fmt.Errorf("target %q: origin must not contain a query or fragment", u.String())
	}
	return nil
}
