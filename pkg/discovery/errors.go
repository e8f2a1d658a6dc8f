package discovery

import "fmt"

// ConfigError is returned when a rule set can't be built from the
// given rules. A process must not serve requests with such rules.
type ConfigError struct {
	Source string // provider name, if known
	Rule   string // rule name or index, if known
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "config"
	if e.Source != "" {
		msg += fmt.Sprintf(" %s", e.Source)
	}
	if e.Rule != "" {
		msg += fmt.Sprintf(" rule %s", e.Rule)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NoRouteError is returned when no rule matches the request path.
type NoRouteError struct {
	Path string
}

// Error implements the error interface.
func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no route for path %s", e.Path)
}
