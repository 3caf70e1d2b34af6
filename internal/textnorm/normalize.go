// Package textnorm prepares masked text for the classifier.
package textnorm

import (
	"regexp"
	"strings"
)

// space matches what unicode.IsSpace accepts; RE2's \s is ASCII only.
const space = `\s\v\x{85}\p{Z}`

var (
	urlPattern    = regexp.MustCompile(`(?:http|www)[^` + space + `]+`)
	digitPattern  = regexp.MustCompile(`\p{Nd}+`)
	symbolPattern = regexp.MustCompile(`[^\p{L}\p{N}_` + space + `!?]+`)
)

// Normalize lowercases text, strips URLs, digits and punctuation other than
// '!' and '?', and collapses whitespace. It is total and idempotent.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = urlPattern.ReplaceAllString(text, "")
	text = digitPattern.ReplaceAllString(text, "")
	text = symbolPattern.ReplaceAllString(text, "")
	// stripping symbols can join a new URL-shaped token ("h.ttpx" -> "httpx")
	text = urlPattern.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}
