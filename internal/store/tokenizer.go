package store

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches runs of letters and digits, including underscores for
// the initial split.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// DefaultStopWords are English function words dropped from keyword indexes.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"in", "is", "it", "of", "on", "or", "that", "the", "this", "to",
	"was", "with",
}

var defaultStopWordMap = BuildStopWordMap(DefaultStopWords)

// TokenizeText splits text into lowercase terms. It breaks CamelCase and
// snake_case names apart so "RevenueTable" matches "revenue". Single
// letters are dropped; single digits are kept since page and table
// numbers matter.
func TokenizeText(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range SplitWord(word) {
			lower := strings.ToLower(t)
			if len([]rune(lower)) >= 2 || isDigits(lower) {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// KeywordTerms tokenizes text and removes stop words.
func KeywordTerms(text string) []string {
	return FilterStopWords(TokenizeText(text), defaultStopWordMap)
}

// SplitWord splits camelCase and snake_case words.
func SplitWord(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase words.
// Examples:
//   - "RevenueTable" -> ["Revenue", "Table"]
//   - "PDFExport" -> ["PDF", "Export"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
