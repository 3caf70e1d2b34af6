package pii

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reconstruct replaces each placeholder in masked with the original span of
// the matching entity.
func reconstruct(t *testing.T, original string, r Result) string {
	t.Helper()

	var b strings.Builder
	mpos, opos := 0, 0
	for _, e := range r.Entities {
		gap := e.Start - opos
		require.GreaterOrEqual(t, gap, 0, "entities out of order")
		b.WriteString(r.MaskedText[mpos : mpos+gap])
		mpos += gap

		placeholder := e.Label.Placeholder()
		require.True(t, strings.HasPrefix(r.MaskedText[mpos:], placeholder),
			"expected %s at offset %d of %q", placeholder, mpos, r.MaskedText)
		mpos += len(placeholder)

		b.WriteString(original[e.Start:e.End])
		opos = e.End
	}
	b.WriteString(r.MaskedText[mpos:])
	return b.String()
}

var sampleTexts = []string{
	"",
	"hello world",
	"CVV: 123",
	"Email me at a@b.com or call 202-555-0147",
	"Call +1-202-555-0147 CVV: 147",
	"My name is John Smith and my card expires 12/25",
	"My aadhar is 1234 5678 9012.",
	"Aadhar 123412341234",
	"cvc 1234, cvv:987 and CVV 55",
	"Reach me: (202) 555-0147 or jane.doe+news@mail.example.org!",
	"Card 4111 1111 1111 1111 exp 0126 cvv 321",
	"1234 5678 9012 3",
	"Über café 12/30 — grüße, My name is Ada Lovelace",
	"phone 2025550147 2025550148 2025550149",
}

func TestMaskNoMatchPassthrough(t *testing.T) {
	r := Mask("hello world")
	assert.Equal(t, "hello world", r.MaskedText)
	assert.Empty(t, r.Entities)
}

func TestMaskEmpty(t *testing.T) {
	r := Mask("")
	assert.Equal(t, "", r.MaskedText)
	assert.Empty(t, r.Entities)
}

func TestMaskCVVExtraction(t *testing.T) {
	r := Mask("CVV: 123")

	assert.Equal(t, "[cvv_no]", r.MaskedText)
	require.Len(t, r.Entities, 1)
	assert.Equal(t, Entity{Start: 0, End: 8, Label: CVVNo, Text: "123"}, r.Entities[0])
}

func TestMaskMultiEntityOrdering(t *testing.T) {
	text := "Email me at a@b.com or call 202-555-0147"
	r := Mask(text)

	assert.Equal(t, "Email me at [email] or call [phone_number]", r.MaskedText)
	require.Len(t, r.Entities, 2)
	assert.Equal(t, Entity{Start: 12, End: 19, Label: Email, Text: "a@b.com"}, r.Entities[0])
	assert.Equal(t, Entity{Start: 28, End: 40, Label: PhoneNumber, Text: "202-555-0147"}, r.Entities[1])
}

func TestMaskPhoneAndCVV(t *testing.T) {
	text := "Call +1-202-555-0147 CVV: 147"
	r := Mask(text)

	assert.Equal(t, "Call [phone_number] [cvv_no]", r.MaskedText)
	require.Len(t, r.Entities, 2)

	phone := r.Entities[0]
	assert.Equal(t, PhoneNumber, phone.Label)
	assert.Equal(t, "+1-202-555-0147", phone.Text)

	// the CVV sits after the phone span, so it survives
	cvv := r.Entities[1]
	assert.Equal(t, CVVNo, cvv.Label)
	assert.Equal(t, "147", cvv.Text)
	assert.Equal(t, "CVV: 147", text[cvv.Start:cvv.End])

	for _, e := range r.Entities {
		if e.Label == CVVNo {
			assert.False(t, e.Start >= phone.Start && e.Start <= phone.End, "cvv inside phone span")
		}
	}
}

func TestMaskNameAndExpiry(t *testing.T) {
	r := Mask("My name is John Smith and my card expires 12/25")

	assert.Equal(t, "[full_name] and my card expires [expiry_no]", r.MaskedText)
	assert.Equal(t, []string{"full_name", "expiry_no"}, r.Labels())
	assert.Equal(t, "My name is John Smith", r.Entities[0].Text)
	assert.Equal(t, "12/25", r.Entities[1].Text)
}

func TestMaskAadhar(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		masked string
	}{
		{"spaced", "My aadhar is 1234 5678 9012.", "My aadhar is [aadhar_num]."},
		{"hyphenated", "id 1234-5678-9012 ok", "id [aadhar_num] ok"},
		{"contiguous beats phone", "Aadhar 123412341234", "Aadhar [aadhar_num]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Mask(tt.text)
			assert.Equal(t, tt.masked, r.MaskedText)
			require.Len(t, r.Entities, 1)
			assert.Equal(t, AadharNum, r.Entities[0].Label)
		})
	}
}

func TestAadharTrailingGuard(t *testing.T) {
	rule, ok := DefaultRegistry().Lookup(AadharNum)
	require.True(t, ok)
	rules := []Rule{rule}

	matches := Scan(rules, "1234 5678 9012 3")
	assert.Empty(t, matches, "followed by separator and digit")

	matches = Scan(rules, "1234 5678 9012 x")
	require.Len(t, matches, 1)
	assert.Equal(t, "1234 5678 9012", matches[0].Text)

	matches = Scan(rules, "1234 5678 9012 ")
	require.Len(t, matches, 1)
	assert.Equal(t, 14, matches[0].End)

	matches = Scan(rules, "123412341234--567856785678")
	require.Len(t, matches, 2)
	assert.Equal(t, "567856785678", matches[1].Text)
}

func TestMaskCaseInsensitive(t *testing.T) {
	r := Mask("cvc 1234")
	require.Len(t, r.Entities, 1)
	assert.Equal(t, CVVNo, r.Entities[0].Label)
	assert.Equal(t, "1234", r.Entities[0].Text)

	r = Mask("my name is john smith")
	assert.Equal(t, "[full_name]", r.MaskedText)
}

func TestMaskReconstruction(t *testing.T) {
	for _, text := range sampleTexts {
		r := Mask(text)
		assert.Equal(t, text, reconstruct(t, text, r), "input %q", text)
		assert.Equal(t, text, r.Original)
	}
}

func TestMaskOrderingAndNonOverlap(t *testing.T) {
	for _, text := range sampleTexts {
		r := Mask(text)
		for i := 1; i < len(r.Entities); i++ {
			prev, cur := r.Entities[i-1], r.Entities[i]
			assert.LessOrEqual(t, prev.End, cur.Start, "input %q: %v overlaps %v", text, prev, cur)
		}
		for _, e := range r.Entities {
			assert.True(t, 0 <= e.Start && e.Start < e.End && e.End <= len(text))
		}
	}
}

func TestMaskDeterministic(t *testing.T) {
	for _, text := range sampleTexts {
		assert.Equal(t, Mask(text), Mask(text))
	}
}

func TestMaskConcurrent(t *testing.T) {
	want := make([]Result, len(sampleTexts))
	for i, text := range sampleTexts {
		want[i] = Mask(text)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, text := range sampleTexts {
				assert.Equal(t, want[i], Mask(text))
			}
		}()
	}
	wg.Wait()
}

func TestEntityJSON(t *testing.T) {
	data, err := json.Marshal(Entity{Start: 0, End: 8, Label: CVVNo, Text: "123"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":0,"end":8,"label":"cvv_no","text":"123"}`, string(data))

	var e Entity
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, CVVNo, e.Label)

	assert.Error(t, json.Unmarshal([]byte(`{"label":"ssn"}`), &e))
}

func TestResultOriginalNotSerialized(t *testing.T) {
	data, err := json.Marshal(Mask("mail a@b.com"))
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Len(t, fields, 2)
	assert.Contains(t, fields, "masked_text")
	assert.Contains(t, fields, "entities")
}
