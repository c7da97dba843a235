package executor

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/corpus/corpustest"
)

func TestShardedScanMatchesSequential(t *testing.T) {
	defer func(n int) { minShardLines = n }(minShardLines)
	minShardLines = 2

	c := corpustest.Sample()
	seqParams := DefaultParams()
	seqParams.ScanShards = 1
	seq := newExecutor(c, seqParams)
	par := newExecutor(c, DefaultParams())

	queries := append([]string{"xyz qqq", "ਹੁਕਮੀ ਨਾਨਕ", "ਗਾਵੈ ਕੋ"}, corpustest.Lines...)
	for _, q := range queries {
		wantTop, wantScored, wantEarly := seq.fullScan(q, 1, c.Len())
		gotTop, gotScored, gotEarly := par.fullScan(q, 1, c.Len())
		if !reflect.DeepEqual(gotTop, wantTop) || gotScored != wantScored || gotEarly != wantEarly {
			t.Errorf("%q: sharded (%v, %d, %v) != sequential (%v, %d, %v)",
				q, gotTop, gotScored, gotEarly, wantTop, wantScored, wantEarly)
		}
	}
}

func TestShardedScanStopsAtFirstEarlyExit(t *testing.T) {
	defer func(n int) { minShardLines = n }(minShardLines)
	minShardLines = 2

	e := sampleExecutor()
	// Line 13 sits in the third of four shards.
	top, scored, early := e.fullScan(corpustest.Lines[12], 1, len(corpustest.Lines))
	if !early || scored != 13 {
		t.Fatalf("early=%v scored=%d, want true 13", early, scored)
	}
	if top[0].LineID != 13 {
		t.Errorf("best = %+v", top[0])
	}
}

func TestSmallRangeIsNotSharded(t *testing.T) {
	e := sampleExecutor()
	_, scored, early := e.fullScan("xyz qqq", 1, len(corpustest.Lines))
	if early || scored != len(corpustest.Lines) {
		t.Errorf("early=%v scored=%d", early, scored)
	}
}

func syntheticCorpus(b *testing.B, n int) *corpus.Corpus {
	b.Helper()
	entries := make([]corpus.Entry, n)
	for i := range entries {
		entries[i] = corpus.Entry{
			Text:    corpustest.Lines[i%len(corpustest.Lines)],
			Section: fmt.Sprintf("s%04d", i/100),
		}
	}
	c, err := corpus.New(entries)
	if err != nil {
		b.Fatal(err)
	}
	return c
}

func BenchmarkFullScan(b *testing.B) {
	c := syntheticCorpus(b, 60000)
	for _, shards := range []int{1, 2, 4, 8} {
		b.Run(fmt.Sprintf("shards=%d", shards), func(b *testing.B) {
			p := DefaultParams()
			p.ScanShards = shards
			e := newExecutor(c, p)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				e.fullScan("xyz qqq", 1, c.Len())
			}
		})
	}
}
