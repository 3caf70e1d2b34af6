package pii

import "sort"

// Condition decides whether a match falls under a suppressing match.
type Condition int

const (
	// StartWithin holds when the match starts inside the suppressing span,
	// both ends inclusive.
	StartWithin Condition = iota
	// Contained holds when the match lies entirely inside the suppressing span.
	Contained
)

func (c Condition) holds(m, by Match) bool {
	switch c {
	case StartWithin:
		return by.Start <= m.Start && m.Start <= by.End
	case Contained:
		return by.Start <= m.Start && m.End <= by.End
	}
	return false
}

func (c Condition) String() string {
	switch c {
	case StartWithin:
		return "start_within"
	case Contained:
		return "contained"
	}
	return "unknown"
}

// Suppression discards matches of one category that fall under a match of
// another.
type Suppression struct {
	Suppressed Category
	By         Category
	When       Condition
}

// DefaultSuppressions returns the built-in suppression table.
func DefaultSuppressions() []Suppression {
	return []Suppression{
		// digit runs inside a phone number are not security codes
		{Suppressed: CVVNo, By: PhoneNumber, When: StartWithin},
		{Suppressed: ExpiryNo, By: PhoneNumber, When: Contained},
		{Suppressed: ExpiryNo, By: AadharNum, When: Contained},
		{Suppressed: PhoneNumber, By: AadharNum, When: Contained},
	}
}

// ResolveStats counts what resolution removed.
type ResolveStats struct {
	Suppressed  int
	Overlapping int
	// suppressions per condition name; nil when nothing was suppressed
	ByCondition map[string]int
}

// Resolver turns raw matches into an ordered, non-overlapping sequence.
type Resolver struct {
	suppressions []Suppression
}

// NewResolver creates a resolver with the given suppression table.
func NewResolver(suppressions []Suppression) *Resolver {
	r := &Resolver{suppressions: make([]Suppression, len(suppressions))}
	copy(r.suppressions, suppressions)
	return r
}

var defaultResolver = NewResolver(DefaultSuppressions())

// Resolve applies the suppression table, orders survivors by start (ties by
// discovery order) and drops any match that still overlaps one kept before
// it. The input slice is not modified.
func (r *Resolver) Resolve(matches []Match) ([]Match, ResolveStats) {
	var stats ResolveStats

	byCategory := make(map[Category][]Match)
	for _, m := range matches {
		byCategory[m.Category] = append(byCategory[m.Category], m)
	}

	survivors := make([]Match, 0, len(matches))
	for _, m := range matches {
		if when, ok := r.suppressed(m, byCategory); ok {
			stats.Suppressed++
			if stats.ByCondition == nil {
				stats.ByCondition = make(map[string]int)
			}
			stats.ByCondition[when.String()]++
			continue
		}
		survivors = append(survivors, m)
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].Start != survivors[j].Start {
			return survivors[i].Start < survivors[j].Start
		}
		return survivors[i].order < survivors[j].order
	})

	resolved := survivors[:0]
	lastEnd := 0
	for _, m := range survivors {
		if len(resolved) > 0 && m.Start < lastEnd {
			stats.Overlapping++
			continue
		}
		resolved = append(resolved, m)
		lastEnd = m.End
	}

	return resolved, stats
}

// suppressed reports the condition of the first table entry that discards m.
func (r *Resolver) suppressed(m Match, byCategory map[Category][]Match) (Condition, bool) {
	for _, s := range r.suppressions {
		if s.Suppressed != m.Category {
			continue
		}
		for _, by := range byCategory[s.By] {
			if s.When.holds(m, by) {
				return s.When, true
			}
		}
	}
	return 0, false
}
