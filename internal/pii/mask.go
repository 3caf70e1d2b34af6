package pii

import "strings"

// Build rewrites text by replacing each resolved match with its category
// placeholder. matches must be ordered by start and must not overlap.
func Build(text string, matches []Match) Result {
	var b strings.Builder
	b.Grow(len(text))

	entities := make([]Entity, 0, len(matches))
	lastEnd := 0

	for _, m := range matches {
		b.WriteString(text[lastEnd:m.Start])
		b.WriteString(m.Category.Placeholder())

		entities = append(entities, Entity{
			Start: m.Start,
			End:   m.End,
			Label: m.Category,
			Text:  m.Category.Extract(m.Text),
		})
		lastEnd = m.End
	}
	b.WriteString(text[lastEnd:])

	return Result{
		MaskedText: b.String(),
		Entities:   entities,
		Original:   text,
	}
}

// Mask detects and masks PII in text using the built-in rules.
func Mask(text string) Result {
	resolved, _ := defaultResolver.Resolve(defaultRegistry.Scan(text))
	return Build(text, resolved)
}
