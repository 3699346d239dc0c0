package query

import (
	"strings"
)

// HashTags returns the whitespace-separated tokens of text that start
// with '#' or '$', lower-cased and otherwise verbatim.
func HashTags(text string) []string {
	var tags []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		if isTag(f) {
			tags = append(tags, f)
		}
	}
	return tags
}

func isTag(token string) bool {
	return strings.HasPrefix(token, "#") || strings.HasPrefix(token, "$")
}

// TextQuery renders the text part of a query. Text containing a double
// quote is taken as a literal phrase query and returned as is; otherwise
// every contiguous token run is quoted and joined, longest first.
func TextQuery(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(text, `"`) {
		return text
	}

	tuples := Tuples(text)
	for i, t := range tuples {
		tuples[i] = `"` + t + `"`
	}
	return strings.Join(tuples, " ")
}

// Tuples returns every contiguous sub-sequence of the tokens in text,
// longest first and left to right within a length.
func Tuples(text string) []string {
	tokens := strings.Fields(text)
	n := len(tokens)
	out := make([]string, 0, n*(n+1)/2)
	for size := n; size > 0; size-- {
		for start := 0; start+size <= n; start++ {
			out = append(out, strings.Join(tokens[start:start+size], " "))
		}
	}
	return out
}

// SplitPhrases splits a literal query into its quoted phrases and bare
// words, in order. An unterminated quote runs to the end of the text.
func SplitPhrases(text string) []string {
	var (
		out     []string
		current strings.Builder
		inQuote bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}

	for _, r := range text {
		switch {
		case r == '"':
			flush()
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return out
}
