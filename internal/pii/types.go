package pii

import (
	"fmt"
	"regexp"
)

// Category identifies a family of PII the detector knows how to find.
type Category int

const (
	ExpiryNo Category = iota
	PhoneNumber
	Email
	AadharNum
	CVVNo
	FullName
)

var categoryNames = [...]string{
	ExpiryNo:    "expiry_no",
	PhoneNumber: "phone_number",
	Email:       "email",
	AadharNum:   "aadhar_num",
	CVVNo:       "cvv_no",
	FullName:    "full_name",
}

// cvvDigits pulls the security code out of a "CVV: 123" style match.
var cvvDigits = regexp.MustCompile(`\d{3,4}`)

// Categories returns every category in registration order.
func Categories() []Category {
	return []Category{ExpiryNo, PhoneNumber, Email, AadharNum, CVVNo, FullName}
}

// ParseCategory resolves a category from its label.
func ParseCategory(name string) (Category, bool) {
	for i, n := range categoryNames {
		if n == name {
			return Category(i), true
		}
	}
	return 0, false
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// Placeholder is the token substituted for a match in the masked text.
func (c Category) Placeholder() string {
	return "[" + c.String() + "]"
}

// Extract returns the text reported for an entity of this category, given
// the full matched substring.
func (c Category) Extract(matched string) string {
	switch c {
	case CVVNo:
		if digits := cvvDigits.FindString(matched); digits != "" {
			return digits
		}
		return matched
	case ExpiryNo, PhoneNumber, Email, AadharNum, FullName:
		return matched
	}
	return matched
}

// MarshalText encodes the category as its label.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category label.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, ok := ParseCategory(string(text))
	if !ok {
		return fmt.Errorf("unknown PII category: %s", text)
	}
	*c = parsed
	return nil
}

// Match is a single pattern hit. Start and End are byte offsets into the
// original text.
type Match struct {
	Category Category
	Start    int
	End      int
	Text     string

	// discovery index: rule registration order, then match order
	order int
}

// Entity is the externally reported record of one masked span.
type Entity struct {
	Start int      `json:"start"`
	End   int      `json:"end"`
	Label Category `json:"label"`
	Text  string   `json:"text"`
}

// Result contains the outcome of masking a piece of text.
type Result struct {
	MaskedText string   `json:"masked_text"`
	Entities   []Entity `json:"entities"`
	Original   string   `json:"-"` // Never serialize original text
}

// Labels returns the entity labels in order.
func (r Result) Labels() []string {
	labels := make([]string, len(r.Entities))
	for i, e := range r.Entities {
		labels[i] = e.Label.String()
	}
	return labels
}
