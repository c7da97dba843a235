package index_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/corpus/corpustest"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/index"
)

func TestBuildPostings(t *testing.T) {
	c := corpustest.Sample()
	idx := index.Build(c)

	if got := idx.Postings("ਗਾਵੈ"); !reflect.DeepEqual(got, index.PostingList{15, 16, 17, 18}) {
		t.Errorf("ਗਾਵੈ postings = %v", got)
	}
	if got := idx.Postings("ਹੁਕਮੀ"); !reflect.DeepEqual(got, index.PostingList{9, 10, 11, 12}) {
		t.Errorf("ਹੁਕਮੀ postings = %v", got)
	}
	if idx.Postings("ਰਹਾਉ") != nil {
		t.Error("stop word should not be indexed")
	}
	if idx.Fingerprint() != c.Fingerprint() {
		t.Error("index should carry the corpus fingerprint")
	}

	// every token of every line is reachable and references a real line
	for _, line := range c.Lines() {
		for _, tok := range strings.Fields(line.Text) {
			if !idx.Postings(tok).Contains(line.ID) {
				t.Errorf("line %d missing from postings of %q", line.ID, tok)
			}
		}
	}
	for _, tok := range idx.Tokens() {
		for _, id := range idx.Postings(tok) {
			if _, ok := c.Line(id); !ok {
				t.Errorf("token %q references missing line %d", tok, id)
			}
		}
	}
}

func TestBuildOrderIndependent(t *testing.T) {
	c := corpustest.Sample()
	forward := index.NewBuilder()
	backward := index.NewBuilder()
	lines := c.Lines()
	for _, l := range lines {
		forward.AddLine(l.ID, l.Text)
	}
	for i := len(lines) - 1; i >= 0; i-- {
		backward.AddLine(lines[i].ID, lines[i].Text)
	}
	a, b := forward.Build("x"), backward.Build("x")
	if !reflect.DeepEqual(a.Snapshot(), b.Snapshot()) {
		t.Error("index depends on insertion order")
	}
	if !sortedStrings(a.Tokens()) {
		t.Error("tokens not sorted")
	}
}

func TestFromEntries(t *testing.T) {
	idx := index.Build(corpustest.Sample())
	restored, err := index.FromEntries(idx.Snapshot(), idx.LineCount(), idx.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	if restored.Len() != idx.Len() || restored.Occurrences() != idx.Occurrences() {
		t.Errorf("restored %d/%d, want %d/%d", restored.Len(), restored.Occurrences(), idx.Len(), idx.Occurrences())
	}

	bad := [][]index.TermEntry{
		{{Term: "a", Postings: index.PostingList{2, 1}}},
		{{Term: "a", Postings: index.PostingList{99}}},
		{{Term: "", Postings: index.PostingList{1}}},
		{{Term: "a", Postings: index.PostingList{1}}, {Term: "a", Postings: index.PostingList{2}}},
	}
	for i, entries := range bad {
		if _, err := index.FromEntries(entries, 18, "x"); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestTopTerms(t *testing.T) {
	idx := index.Build(corpustest.Sample())
	top := idx.TopTerms(3)
	if len(top) != 3 {
		t.Fatalf("TopTerms(3) = %v", top)
	}
	for i := 1; i < len(top); i++ {
		if top[i].LineCount > top[i-1].LineCount {
			t.Errorf("not sorted by count: %v", top)
		}
	}
	// ਨ appears on seven lines, more than any other token
	if top[0].Term != "ਨ" || top[0].LineCount != 7 {
		t.Errorf("top term = %+v", top[0])
	}
}

func TestSetOps(t *testing.T) {
	a := index.PostingList{1, 3, 5, 7}
	b := index.PostingList{3, 4, 5, 8}
	if got := index.Intersect(a, b); !reflect.DeepEqual(got, index.PostingList{3, 5}) {
		t.Errorf("Intersect = %v", got)
	}
	if got := index.Union(a, b); !reflect.DeepEqual(got, index.PostingList{1, 3, 4, 5, 7, 8}) {
		t.Errorf("Union = %v", got)
	}
	if got := index.Union(nil, b); !reflect.DeepEqual(got, b) {
		t.Errorf("Union(nil, b) = %v", got)
	}
	if a.Contains(4) || !a.Contains(7) {
		t.Error("Contains wrong")
	}
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}

func BenchmarkBuild(b *testing.B) {
	c := corpustest.Sample()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		index.Build(c)
	}
}

func BenchmarkPostingsParallel(b *testing.B) {
	idx := index.Build(corpustest.Sample())
	terms := idx.Tokens()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			idx.Postings(terms[i%len(terms)])
			i++
		}
	})
}
