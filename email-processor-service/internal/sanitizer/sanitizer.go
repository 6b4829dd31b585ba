// Package sanitizer turns untrusted newsletter HTML into plain text.
package sanitizer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// An unterminated block runs to the end of the input. A tag cut off by the end of input
	// must start like a tag, so "<5%" or "a < b" stays text.
	scriptRe  = regexp.MustCompile(`(?is)<script\b.*?(?:</script\s*>|$)`)
	styleRe   = regexp.MustCompile(`(?is)<style\b.*?(?:</style\s*>|$)`)
	tagRe     = regexp.MustCompile(`<[^<>]*>`)
	openTagRe = regexp.MustCompile(`<[A-Za-z/!?][^<>]*$`)

	// single pass, so "&amp;lt;" becomes "&lt;" and not "<"
	entities = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#34;", `"`,
		"&#39;", "'",
	)
)

// StripHTML removes script and style blocks and all tags, decodes the common entities and
// collapses whitespace. It never panics on malformed markup.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}
	s := scriptRe.ReplaceAllString(html, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = openTagRe.ReplaceAllString(s, " ")
	return CleanText(s)
}

// CleanText decodes entities and collapses runs of whitespace to single spaces.
func CleanText(s string) string {
	return strings.Join(strings.Fields(entities.Replace(s)), " ")
}

// Truncate cuts s to n runes and appends "..." when something was cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// RuneLen counts characters, not bytes.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
