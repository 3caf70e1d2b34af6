package pii

import "regexp"

// Rule binds a category to its compiled pattern. Group selects the submatch
// whose span is reported; 0 means the whole match.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
	Group    int
}

// Registry is an ordered, immutable set of rules.
type Registry struct {
	rules []Rule
}

// NewRegistry creates a registry. Rule order is the registration order used
// to break ties during overlap resolution.
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{rules: make([]Rule, len(rules))}
	copy(r.rules, rules)
	return r
}

// Rules returns a copy of the registered rules.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Lookup returns the rule registered for a category.
func (r *Registry) Lookup(c Category) (Rule, bool) {
	for _, rule := range r.rules {
		if rule.Category == c {
			return rule, true
		}
	}
	return Rule{}, false
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	return len(r.rules)
}

var defaultRegistry = NewRegistry(DefaultRules()...)

// DefaultRegistry returns the process-wide built-in registry. It is shared and
// must not be modified.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// DefaultRules returns the built-in PII detection rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			// 12/25, 0125
			Category: ExpiryNo,
			Pattern:  regexp.MustCompile(`(?i)\b(0[1-9]|1[0-2])/?(\d{2})\b`),
		},
		{
			// +1-202-555-0147, (202) 555 0147
			Category: PhoneNumber,
			Pattern:  regexp.MustCompile(`(?i)(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		},
		{
			Category: Email,
			Pattern:  regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		},
		{
			// The trailing group stands in for "not followed by [ -]?\d" and is
			// excluded from the reported span.
			Category: AadharNum,
			Pattern:  regexp.MustCompile(`(?i)\b(\d{4}[ -]?\d{4}[ -]?\d{4})(?:[ -]?$|[ -]\D|[^ \-\d])`),
			Group:    1,
		},
		{
			Category: CVVNo,
			Pattern:  regexp.MustCompile(`(?i)(?:CVV|CVC)[: ]*\d{3,4}\b`),
		},
		{
			Category: FullName,
			Pattern:  regexp.MustCompile(`(?i)My name is [A-Z][a-z]+ [A-Z][a-z]+`),
		},
	}
}
