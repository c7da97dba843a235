package index

import (
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/tokenizer"
)

// Builder accumulates postings line by line. It is not safe for concurrent
// use; Build the result once and share the TokenIndex instead.
type Builder struct {
	postings  map[string]map[int]struct{}
	lineCount int
	maxID     int
}

func NewBuilder() *Builder {
	return &Builder{
		postings: make(map[string]map[int]struct{}),
	}
}

// AddLine indexes every non-stopword token of a normalized line.
func (b *Builder) AddLine(lineID int, text string) {
	for _, token := range tokenizer.Tokenize(text) {
		lines, ok := b.postings[token.Term]
		if !ok {
			lines = make(map[int]struct{}, 1)
			b.postings[token.Term] = lines
		}
		lines[lineID] = struct{}{}
	}
	b.lineCount++
	b.maxID = max(b.maxID, lineID)
}

// Build freezes the builder into a TokenIndex. Postings come out sorted, so
// the order lines were added in does not matter.
func (b *Builder) Build(fingerprint string) *TokenIndex {
	idx := &TokenIndex{
		postings:    make(map[string]PostingList, len(b.postings)),
		tokens:      make([]string, 0, len(b.postings)),
		lineCount:   max(b.lineCount, b.maxID),
		fingerprint: fingerprint,
	}
	for term, lines := range b.postings {
		pl := make(PostingList, 0, len(lines))
		for id := range lines {
			pl = append(pl, id)
		}
		sort.Ints(pl)
		idx.postings[term] = pl
		idx.tokens = append(idx.tokens, term)
		idx.occurrences += len(pl)
	}
	sort.Strings(idx.tokens)
	return idx
}

// TokenIndex maps tokens to the lines containing them. It is immutable and
// safe for concurrent readers.
type TokenIndex struct {
	postings    map[string]PostingList
	tokens      []string
	lineCount   int
	occurrences int
	fingerprint string
}

// Build indexes every line of c.
func Build(c *corpus.Corpus) *TokenIndex {
	b := NewBuilder()
	for _, line := range c.Lines() {
		b.AddLine(line.ID, line.Text)
	}
	return b.Build(c.Fingerprint())
}

// FromEntries rebuilds an index from a snapshot, checking that postings are
// ascending and reference only ids in [1, lineCount].
func FromEntries(entries []TermEntry, lineCount int, fingerprint string) (*TokenIndex, error) {
	idx := &TokenIndex{
		postings:    make(map[string]PostingList, len(entries)),
		tokens:      make([]string, 0, len(entries)),
		lineCount:   lineCount,
		fingerprint: fingerprint,
	}
	for _, e := range entries {
		if e.Term == "" {
			return nil, fmt.Errorf("empty term in index snapshot")
		}
		if _, dup := idx.postings[e.Term]; dup {
			return nil, fmt.Errorf("duplicate term %q in index snapshot", e.Term)
		}
		prev := 0
		for _, id := range e.Postings {
			if id <= prev || id > lineCount {
				return nil, fmt.Errorf("term %q has invalid posting %d", e.Term, id)
			}
			prev = id
		}
		idx.postings[e.Term] = e.Postings
		idx.tokens = append(idx.tokens, e.Term)
		idx.occurrences += len(e.Postings)
	}
	sort.Strings(idx.tokens)
	return idx, nil
}

// Postings returns the lines containing term. The list is shared and must
// not be modified.
func (t *TokenIndex) Postings(term string) PostingList {
	return t.postings[term]
}

// Tokens returns the vocabulary in sorted order. The slice is shared.
func (t *TokenIndex) Tokens() []string { return t.tokens }

func (t *TokenIndex) Len() int { return len(t.tokens) }

func (t *TokenIndex) LineCount() int { return t.lineCount }

// Occurrences is the total number of (term, line) pairs.
func (t *TokenIndex) Occurrences() int { return t.occurrences }

// Fingerprint identifies the corpus the index was built from.
func (t *TokenIndex) Fingerprint() string { return t.fingerprint }

// Snapshot returns every term with its postings, sorted by term.
func (t *TokenIndex) Snapshot() []TermEntry {
	entries := make([]TermEntry, 0, len(t.tokens))
	for _, term := range t.tokens {
		entries = append(entries, TermEntry{Term: term, Postings: t.postings[term]})
	}
	return entries
}

// TopTerms returns the n terms that occur on the most lines.
func (t *TokenIndex) TopTerms(n int) []TermStat {
	stats := make([]TermStat, 0, len(t.tokens))
	for _, term := range t.tokens {
		stats = append(stats, TermStat{Term: term, LineCount: len(t.postings[term])})
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].LineCount > stats[j].LineCount
	})
	if n >= 0 && len(stats) > n {
		stats = stats[:n]
	}
	return stats
}
