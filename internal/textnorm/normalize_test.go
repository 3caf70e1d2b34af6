package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"lowercase", "Hello World", "hello world"},
		{"keeps bang and question", "Why?! Now!", "why?! now!"},
		{"strips punctuation", "Hi, there; (friend).", "hi there friend"},
		{"strips digits", "Order 12345 shipped", "order shipped"},
		{"strips urls", "See https://example.com/a?b=1 and www.test.org now", "see and now"},
		{"collapses whitespace", "  a \t\n b  ", "a b"},
		{"placeholders", "Call [phone_number] or mail [email]", "call phone_number or mail email"},
		{"unicode letters survive", "Grüße aus Köln, 東京!", "grüße aus köln 東京!"},
		{"unicode whitespace", "a\u00a0b\u2003c", "a b c"},
		{"url formed by stripping", "h.ttpx and more", "and more"},
		{"only symbols", "--- ... ***", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"Hello, World!",
		"h.ttpx w.ww.site",
		"Visit http://x.y/z?q=1 or WWW.ABC.COM today!!",
		"Masked: [cvv_no] [expiry_no] [full_name]",
		"\u1e9etraße \u0130stanbul \u01c5emal",
		"tab\tnew\nline sep",
		"1a2b3c_d?e!f",
		"xhttp",
	}

	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}
