package history

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
)

type countingObserver struct{ n int }

func (o *countingObserver) ComparisonSaved() { o.n++ }

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := New(ctx, db, 75, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func ranking(query string, best float64, lineID int) *executor.Ranking {
	r := &executor.Ranking{
		Query:      query,
		Normalized: query,
		Weights:    ranker.Weights{"ratio": 0.5, "token_set_ratio": 0.5},
	}
	if best > 0 {
		r.Results = []executor.Ranked{{
			LineID:    lineID,
			Text:      "ਸਤਿ ਨਾਮੁ ਕਰਤਾ ਪੁਰਖੁ",
			SectionID: "mool",
			Score:     best,
			Scores:    map[string]float64{"ratio": best, "token_set_ratio": best},
		}}
		r.BestScore = best
	}
	return r
}

func TestSaveRespectsMinimum(t *testing.T) {
	obs := &countingObserver{}
	s := newStore(t, WithObserver(obs))
	ctx := context.Background()

	for _, r := range []*executor.Ranking{ranking("ਕੁਝ", 0, 0), ranking("ਸਤਿ", 74.99, 1)} {
		if _, saved, err := s.Save(ctx, r, "", ""); err != nil || saved {
			t.Fatalf("%q: saved=%v err=%v", r.Query, saved, err)
		}
	}

	id, saved, err := s.Save(ctx, ranking("ਸਤਿ ਨਾਮੁ", 75, 1), "sess-1", "compare")
	if err != nil || !saved || id == 0 {
		t.Fatalf("id=%d saved=%v err=%v", id, saved, err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if obs.n != 1 {
		t.Errorf("observer saw %d saves", obs.n)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i, q := range []string{"first", "second", "third"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		if _, _, err := s.Save(ctx, ranking(q, 90, i+1), "", ""); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Query != "third" || got[1].Query != "second" {
		t.Fatalf("List = %+v", got)
	}
	r := got[0]
	if r.BestLineID != 3 || r.BestScore != 90 || r.BestSection != "mool" {
		t.Errorf("record = %+v", r)
	}
	if r.Weights["ratio"] != 0.5 || len(r.Results) != 1 || r.Results[0].Scores["token_set_ratio"] != 90 {
		t.Errorf("decoded weights/results = %+v / %+v", r.Weights, r.Results)
	}
	if !r.CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("CreatedAt = %v", r.CreatedAt)
	}
}

func TestExport(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.Save(ctx, ranking("a", 80, 1), "", "")
	s.Save(ctx, ranking("b", 95, 2), "", "")

	var buf bytes.Buffer
	n, err := s.Export(ctx, &buf)
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	var doc struct {
		Count       int      `json:"total_comparisons"`
		MinScore    float64  `json:"min_save_score"`
		Comparisons []Record `json:"comparisons"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Count != 2 || doc.MinScore != 75 || doc.Comparisons[0].Query != "a" {
		t.Errorf("export = %+v", doc)
	}
}
