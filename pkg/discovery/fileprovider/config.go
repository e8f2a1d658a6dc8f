package fileprovider

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/Semior001/hroxy/pkg/discovery"
	"gopkg.in/yaml.v3"
)

// Config defines a set of rules for the proxy to use.
type Config struct {
	Version string `yaml:"version" jsonschema:"enum=1"`
	Rules   []Rule `yaml:"rules"`
}

// Rule specifies a single prefix route.
type Rule struct {
	Name         string   `yaml:"name,omitempty"          jsonschema:"description=Optional name of the rule used in logs and metrics"`
	Prefix       string   `yaml:"prefix"                  jsonschema:"required,description=Literal path prefix to match"`
	Target       string   `yaml:"target"                  jsonschema:"required,description=Upstream origin e.g. http://host:5000"`
	Rewrite      *Rewrite `yaml:"rewrite,omitempty"       jsonschema:"description=Replace the leading path prefix before forwarding"`
	PreserveHost bool     `yaml:"preserve-host,omitempty" jsonschema:"description=Forward the client Host header instead of the upstream host"`
	Timeout      string   `yaml:"timeout,omitempty"       jsonschema:"description=Forwarding deadline e.g. 10s"`
}

// Rewrite specifies the path prefix substitution.
type Rewrite struct {
	From string `yaml:"from" jsonschema:"required"`
	To   string `yaml:"to"`
}

// Parse decodes the config from the reader and converts it to
// the routing rules. Any malformed rule is reported as ConfigError.
func Parse(r io.Reader) ([]discovery.Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &discovery.ConfigError{Reason: "empty config"}
		}
		return nil, &discovery.ConfigError{Reason: "decode", Err: err}
	}

	if cfg.Version != "1" {
		return nil, &discovery.ConfigError{Reason: fmt.Sprintf("unsupported version: %q", cfg.Version)}
	}

	rules := make([]discovery.Rule, 0, len(cfg.Rules))
	for idx, r := range cfg.Rules {
		rule, err := r.parse()
		if err != nil {
			ref := "#" + strconv.Itoa(idx)
			if r.Name != "" {
				ref += " (" + r.Name + ")"
			}
			return nil, &discovery.ConfigError{Rule: ref, Reason: "parse rule", Err: err}
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func (r Rule) parse() (result discovery.Rule, err error) {
	result = discovery.Rule{
		Name:         r.Name,
		Prefix:       r.Prefix,
		PreserveHost: r.PreserveHost,
	}

	if r.Target == "" {
		return discovery.Rule{}, fmt.Errorf("empty target")
	}

	if result.Target, err = url.Parse(r.Target); err != nil {
		return discovery.Rule{}, fmt.Errorf("parse target: %w", err)
	}

	if r.Rewrite != nil {
		if r.Rewrite.From == "" {
			return discovery.Rule{}, fmt.Errorf("empty rewrite source")
		}
		result.Rewrite = discovery.Rewrite{From: r.Rewrite.From, To: r.Rewrite.To}
	}

	if r.Timeout != "" {
		if result.Timeout, err = time.ParseDuration(r.Timeout); err != nil {
			return discovery.Rule{}, fmt.Errorf("parse timeout: %w", err)
		}
	}

	return result, nil
}
