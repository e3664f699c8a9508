package retrieval

import (
	"regexp"
	"strings"
	"unicode"
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// tokenize splits text into distinct lowercase word tokens.
func tokenize(text string) []string {
	cleaned := nonWord.Split(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(cleaned))
	seen := make(map[string]struct{}, len(cleaned))
	for _, token := range cleaned {
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens
}

func isBlank(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}
