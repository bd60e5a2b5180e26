package history

import "strings"

// stopWords are dropped during keyword extraction. The set is intentionally
// small; it only needs to strip the filler that would otherwise dominate
// Jaccard comparisons between short queries.
var stopWords = map[string]bool{
	"the": true, "is": true, "a": true, "an": true, "of": true, "and": true,
	"or": true, "to": true, "in": true, "on": true, "for": true,
	"with": true, "at": true, "by": true, "from": true, "as": true,
	"about": true, "what": true, "which": true, "who": true,
	"how": true, "much": true, "many": true, "when": true, "where": true,
	"why": true, "do": true, "does": true, "did": true,
	"his": true, "her": true, "their": true, "its": true, "this": true,
	"that": true, "these": true, "those": true,
}

// Keywords lowercases the text, extracts alphanumeric tokens, removes stop
// words, and collapses duplicates. Token order is not significant to any
// caller; the returned slice preserves first-occurrence order for readability
// in logs and stored records.
func Keywords(text string) []string {
	var (
		tokens []string
		seen   = make(map[string]bool)
		sb     strings.Builder
	)
	flush := func() {
		if sb.Len() == 0 {
			return
		}
		tok := sb.String()
		sb.Reset()
		if stopWords[tok] || seen[tok] {
			return
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Jaccard computes the Jaccard index of two keyword slices treated as sets:
// |A ∩ B| / |A ∪ B|. When both sets are empty the similarity is 0 by
// convention.
func Jaccard(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}
