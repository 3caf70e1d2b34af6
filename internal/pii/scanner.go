package pii

// Scan applies every rule to text independently and returns all raw matches.
// Matches from different rules may overlap; that is resolved by a Resolver.
func Scan(rules []Rule, text string) []Match {
	var matches []Match
	order := 0

	for _, rule := range rules {
		for _, loc := range rule.Pattern.FindAllStringSubmatchIndex(text, -1) {
			idx := rule.Group * 2
			if idx+1 >= len(loc) {
				continue
			}
			start, end := loc[idx], loc[idx+1]
			if start < 0 || start >= end || end > len(text) {
				continue
			}

			matches = append(matches, Match{
				Category: rule.Category,
				Start:    start,
				End:      end,
				Text:     text[start:end],
				order:    order,
			})
			order++
		}
	}

	return matches
}

// Scan applies the registry's rules to text.
func (r *Registry) Scan(text string) []Match {
	return Scan(r.rules, text)
}
