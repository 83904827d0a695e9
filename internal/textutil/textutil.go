// Package textutil holds the tokenizer and word lists shared by the embedder, the summarizer
// and the prompt helpers.
package textutil

import (
	"regexp"
	"strings"
)

var (
	wordRe     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

var stopwords = toSet([]string{
	"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at",
	"by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that",
	"these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so",
	"such", "into", "about", "between", "through", "during", "before", "after", "above", "below",
	"out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	"i", "you", "we", "he", "she", "they", "me", "my", "our", "your", "his", "her", "their", "do",
	"does", "did", "what", "who", "how", "why", "when", "where",
})

// queryStopwords are the filler words of a question. Keywords drops them.
var queryStopwords = toSet([]string{
	"what", "when", "where", "who", "why", "how", "is", "are", "was", "were",
	"the", "a", "an", "in", "on", "at", "to", "for", "of", "with", "about",
	"tell", "me", "please", "can", "you", "i", "my",
})

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Tokens lower-cases text and returns its word tokens.
func Tokens(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// ContentTokens is Tokens without stopwords.
func ContentTokens(text string) []string {
	raw := Tokens(text)
	out := raw[:0]
	for _, t := range raw {
		if !IsStopword(t) {
			out = append(out, t)
		}
	}
	return out
}

// IsStopword reports whether a lower-cased token carries no topical signal.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokens(text)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// Sentences splits text on terminal punctuation. Text without any yields itself, trimmed.
func Sentences(text string) []string {
	found := sentenceRe.FindAllString(text, -1)
	if len(found) == 0 {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}
	out := make([]string, 0, len(found))
	for _, s := range found {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Keywords returns the non-filler words of a question, punctuation stripped.
func Keywords(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if _, skip := queryStopwords[w]; skip {
			continue
		}
		w = strings.Trim(w, "?,!.")
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// TitleCase upper-cases the first letter of every space-separated word.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		if len(r) > 0 {
			r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Truncate shortens s to at most n runes, adding an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
