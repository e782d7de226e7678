package types

import (
	"regexp"
	"strings"
)

var (
	nonWordRe    = regexp.MustCompile(`[^a-z0-9\s]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeTitle canonicalizes an issue title for duplicate comparison:
// lowercase, strip non-word characters, collapse runs of whitespace.
// Normalizing a normalized title is the identity.
func NormalizeTitle(title string) string {
	s := strings.ToLower(title)
	s = nonWordRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// TitleTokens splits a normalized title into its word tokens.
func TitleTokens(title string) []string {
	normalized := NormalizeTitle(title)
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

// JaccardSimilarity computes token-set overlap between two titles: the size
// of the intersection divided by the size of the union.
func JaccardSimilarity(a, b string) float64 {
	tokensA := TitleTokens(a)
	tokensB := TitleTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(tokensA))
	for _, tok := range tokensA {
		setA[tok] = struct{}{}
	}
	setB := make(map[string]struct{}, len(tokensB))
	for _, tok := range tokensB {
		setB[tok] = struct{}{}
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
