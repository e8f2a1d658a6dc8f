package discovery

import (
	"strconv"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// RuleSet is an immutable collection of rules with unique prefixes.
// Rules are indexed in a radix tree by their prefix, so matching
// selects the rule with the longest prefix of the request path,
// regardless of the declaration order.
type RuleSet struct {
	rules    []Rule
	tree     *iradix.Tree
	version  uint64
	loadedAt time.Time
}

// NewRuleSet validates the rules and builds a rule set of them.
// It returns ConfigError if any rule is invalid or if any two rules
// share the same prefix.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	txn := iradix.New().Txn()
	for idx, r := range rules {
		if err := r.validate(); err != nil {
			return nil, &ConfigError{Rule: ruleRef(idx, r), Reason: "invalid rule", Err: err}
		}

		if prev, exists := txn.Insert([]byte(r.Prefix), idx); exists {
			return nil, &ConfigError{
				Rule:   ruleRef(idx, r),
				Reason: "duplicate prefix " + strconv.Quote(r.Prefix) + ", already declared by rule " + ruleRef(prev.(int), rules[prev.(int)]),
			}
		}
	}

	return &RuleSet{
		rules:    append([]Rule(nil), rules...),
		tree:     txn.Commit(),
		loadedAt: time.Now(),
	}, nil
}

// Match returns the rule with the longest prefix of the given path.
// Prefixes are compared literally, "/api/Activity" matches
// "/api/ActivityParticipation" as well, unless a longer rule exists.
func (s *RuleSet) Match(path string) (Rule, error) {
	if s == nil {
		return Rule{}, &NoRouteError{Path: path}
	}

	_, v, ok := s.tree.Root().LongestPrefix([]byte(path))
	if !ok {
		return Rule{}, &NoRouteError{Path: path}
	}

	return s.rules[v.(int)], nil
}

// Rules returns a copy of the rules in their declaration order.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	return append([]Rule(nil), s.rules...)
}

// Len returns the number of rules in the set.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Version returns the sequence number of the rule set, assigned by the
// Service when the set becomes active. Zero for sets not installed by
// the Service.
func (s *RuleSet) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// LoadedAt returns the time the rule set was built.
func (s *RuleSet) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// sameRules reports whether both sets hold the same rules in the same order.
func (s *RuleSet) sameRules(o *RuleSet) bool {
	if s == nil || o == nil || len(s.rules) != len(o.rules) {
		return false
	}
	for i := range s.rules {
		if !s.rules[i].equal(o.rules[i]) {
			return false
		}
	}
	return true
}

func ruleRef(idx int, r Rule) string {
	if r.Name != "" {
		return "#" + strconv.Itoa(idx) + " (" + r.Name + ")"
	}
	return "#" + strconv.Itoa(idx)
}
