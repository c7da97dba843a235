// Package tokenizer normalizes Gurmukhi text and splits it into index terms.
// Corpus lines and queries go through the same Normalize so that both sides
// of every comparison share one canonical form.
package tokenizer

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Structural words that carry no lyrical content.
var stopWords = map[string]struct{}{
	"ਰਹਾਉ":  {},
	"ਸਲੋਕੁ": {},
}

// Markers removed wherever they appear, even glued to a word.
const (
	doubleDanda = '॥'
	singleDanda = '।'
	ikOnkar     = 'ੴ'
)

// Token is a single normalised term and its position in the text.
type Token struct {
	Term     string
	Position int
}

// Normalize applies NFC composition and strips verse markers, digits,
// punctuation, symbols and format characters. It lower-cases Latin text,
// drops stop words and collapses whitespace.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.Map(func(r rune) rune {
		switch {
		case r == doubleDanda, r == singleDanda, r == ikOnkar:
			return ' '
		case unicode.IsDigit(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			return ' '
		case unicode.Is(unicode.Cf, r):
			return -1
		case unicode.IsSpace(r):
			return ' '
		}
		return unicode.ToLower(r)
	}, text)

	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// Tokenize splits already-normalized text on whitespace and drops stop words.
func Tokenize(text string) []Token {
	words := strings.Fields(text)
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if IsStopWord(word) {
			continue
		}
		tokens = append(tokens, Token{Term: word, Position: pos})
		pos++
	}
	return tokens
}

// Terms returns the token terms of text in order, duplicates included.
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

func IsStopWord(word string) bool {
	if word == "" {
		return true
	}
	_, ok := stopWords[word]
	return ok
}

// Removable lists the markers and words Normalize strips, for reporting.
func Removable() []string {
	out := []string{string(doubleDanda), string(singleDanda), string(ikOnkar)}
	for r := '੦'; r <= '੯'; r++ {
		out = append(out, string(r))
	}
	words := make([]string, 0, len(stopWords))
	for w := range stopWords {
		words = append(words, w)
	}
	sort.Strings(words)
	return append(out, words...)
}
