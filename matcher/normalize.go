package matcher

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/xrash/smetrics"
)

var (
	unitSplitRegex = regexp.MustCompile(`(\d)(ml|mg|gm|g|kg|l|ltr|mcg|iu|tab|tabs|cap|caps)\b`)
	spaceRegex     = regexp.MustCompile(`\s+`)
)

// Normalize lowercases s, strips punctuation, separates quantities from their
// unit tokens ("30ml" -> "30 ml") and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		case r == '.' && i > 0 && i < len(runes)-1 && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]):
			// keep decimal points inside numbers such as 0.5ml
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	out := unitSplitRegex.ReplaceAllString(b.String(), "$1 $2")
	return strings.TrimSpace(spaceRegex.ReplaceAllString(out, " "))
}

// Tokens returns the whitespace separated tokens of an already normalized string.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}

// TokenSortRatio compares two strings after normalizing them and sorting
// their tokens. It returns a similarity in [0, 1].
func TokenSortRatio(a, b string) float64 {
	return ratio(sortedTokens(Normalize(a)), sortedTokens(Normalize(b)))
}

func sortedTokens(normalized string) string {
	tokens := Tokens(normalized)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// ratio is the normalized indel similarity (len(a)+len(b)-d) / (len(a)+len(b)),
// where d is the edit distance with substitutions costing an insert plus a
// delete.
func ratio(a, b string) float64 {
	total := len(a) + len(b)
	if total == 0 || len(a) == 0 || len(b) == 0 {
		return 0
	}
	if a == b {
		return 1
	}
	d := smetrics.WagnerFischer(a, b, 1, 1, 2)
	return float64(total-d) / float64(total)
}

// containsAllTokens reports whether every token of needle appears in haystack.
func containsAllTokens(haystack []string, needle string) bool {
	want := Tokens(Normalize(needle))
	if len(want) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(haystack))
	for _, t := range haystack {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// Keywords returns the search keywords of a description: normalized tokens of
// at least three characters that are not purely numeric.
func Keywords(description string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, t := range Tokens(Normalize(description)) {
		if len([]rune(t)) < 3 || isNumeric(t) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return s != ""
}
