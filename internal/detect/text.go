package detect

import (
	"strings"
	"unicode"
)

var blockIndicators = [][]string{
	{"multiple"},
	{"various"},
	{"and"},
	{"including"},
	{"as", "well", "as"},
}

var vagueTerms = [][]string{
	{"review"},
	{"analyze"},
	{"work", "on"},
	{"attention", "to"},
	{"handle"},
	{"process"},
	{"continue"},
	{"update"},
}

var inflections = []string{"", "s", "es", "d", "ed", "ing"}

// tokenize lowercases a description and splits it into words.
func tokenize(desc string) []string {
	return strings.FieldsFunc(strings.ToLower(desc), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// wordMatches matches a token against a term, tolerating common inflections
// ("reviewed", "updates").
func wordMatches(token, term string) bool {
	if !strings.HasPrefix(token, term) {
		return false
	}
	suffix := token[len(term):]
	for _, s := range inflections {
		if suffix == s {
			return true
		}
	}
	return false
}

// phraseAt reports whether phrase matches tokens starting at i.
// Single-word terms may be inflected; phrases match exactly.
func phraseAt(tokens []string, i int, phrase []string) bool {
	if i+len(phrase) > len(tokens) {
		return false
	}
	for j, w := range phrase {
		tok := tokens[i+j]
		if len(phrase) == 1 {
			if !wordMatches(tok, w) {
				return false
			}
			continue
		}
		if tok != w {
			return false
		}
	}
	return true
}

// containsTerm reports whether any term occurs in tokens.
func containsTerm(tokens []string, terms [][]string) bool {
	for i := range tokens {
		for _, term := range terms {
			if phraseAt(tokens, i, term) {
				return true
			}
		}
	}
	return false
}

// matchedWords counts tokens covered by terms without overlap.
func matchedWords(tokens []string, terms [][]string) int {
	matched := 0
	for i := 0; i < len(tokens); {
		advanced := false
		for _, term := range terms {
			if phraseAt(tokens, i, term) {
				matched += len(term)
				i += len(term)
				advanced = true
				break
			}
		}
		if !advanced {
			i++
		}
	}
	return matched
}

// taskCount estimates how many distinct tasks a description enumerates,
// splitting on list separators and conjunctions.
func taskCount(desc string) int {
	lower := " " + strings.ToLower(desc) + " "
	for _, sep := range []string{" and ", " as well as ", ";", "/", "&", "+"} {
		lower = strings.ReplaceAll(lower, sep, ",")
	}
	count := 0
	for _, part := range strings.Split(lower, ",") {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}

// normalizeText collapses whitespace and case for equality checks.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
