// Package textutil tokenizes request text for keyword rules and pattern keys.
package textutil

import (
	"sort"
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Stopwords are dropped before content tokens are compared.
var Stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"for": true, "of": true, "to": true, "in": true, "on": true, "at": true,
	"by": true, "with": true, "from": true, "into": true, "about": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"am": true, "do": true, "does": true, "did": true, "can": true, "could": true,
	"should": true, "would": true, "will": true, "shall": true, "may": true,
	"might": true, "must": true, "i": true, "me": true, "my": true, "we": true,
	"our": true, "you": true, "your": true, "it": true, "its": true, "this": true,
	"that": true, "these": true, "those": true, "which": true, "what": true,
	"who": true, "whom": true, "how": true, "why": true, "when": true, "where": true,
	"please": true, "some": true, "any": true, "all": true, "there": true,
	"here": true, "than": true, "then": true, "so": true, "if": true, "as": true,
	"make": true, "get": true, "give": true, "tell": true, "show": true,
	"just": true, "also": true, "really": true, "very": true,
}

// ContentTokens returns the tokens of text that are not stopwords.
func ContentTokens(text string) []string {
	var out []string
	for _, tok := range Tokenize(text) {
		if !Stopwords[tok] {
			out = append(out, tok)
		}
	}
	return out
}

// Stem strips a trailing "s" and then a trailing "e", which is enough to
// fold simple plurals ("recipes", "brownies") onto their singular form.
func Stem(tok string) string {
	if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
		tok = tok[:len(tok)-1]
	}
	if len(tok) > 3 && strings.HasSuffix(tok, "e") {
		tok = tok[:len(tok)-1]
	}
	return tok
}

// ContainsAny reports whether text contains any keyword. Single-word
// keywords must match a whole token; phrases match as substrings.
func ContainsAny(text string, keywords []string) bool {
	_, ok := FirstMatch(text, keywords)
	return ok
}

// FirstMatch returns the first keyword found in text.
func FirstMatch(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	tokens := make(map[string]bool)
	for _, tok := range Tokenize(lower) {
		tokens[tok] = true
	}
	for _, kw := range keywords {
		if strings.ContainsAny(kw, " :?") {
			if strings.Contains(lower, kw) {
				return kw, true
			}
			continue
		}
		if tokens[kw] {
			return kw, true
		}
	}
	return "", false
}

// Longest returns up to n tokens ordered by length, longest first, ties
// broken alphabetically so the result is deterministic.
func Longest(tokens []string, n int) []string {
	sorted := append([]string(nil), tokens...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Dedup returns the sorted distinct values of tokens.
func Dedup(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, t := range tokens {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TopTerms returns the n most frequent content tokens, ties broken alphabetically.
func TopTerms(texts []string, n int) []string {
	counts := make(map[string]int)
	for _, text := range texts {
		CountTerms(counts, text)
	}
	return RankTerms(counts, n)
}

// CountTerms adds the content terms of text to counts.
func CountTerms(counts map[string]int, text string) {
	for _, tok := range ContentTokens(text) {
		if len(tok) < 3 {
			continue
		}
		counts[tok]++
	}
}

// RankTerms returns up to n terms by descending count, ties alphabetical.
func RankTerms(counts map[string]int, n int) []string {
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if n >= 0 && len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
