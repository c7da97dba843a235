package executor

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/retriever"
	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/similarity"
)

const (
	// RankMinScore is the exclusive floor for a line to be listed.
	RankMinScore = 30
	// Queries shorter than this many runes are ranked against every line.
	shortQueryRunes = 10
	minLineRunes    = 3
	sampleSize      = 10
)

// Ranked is one line scored with custom weights. EditDistance is the
// Levenshtein distance from the normalized query, in runes.
type Ranked struct {
	LineID       int                `json:"line_number"`
	Text         string             `json:"text"`
	SectionID    string             `json:"section_id"`
	Score        float64            `json:"weighted_score"`
	Scores       map[string]float64 `json:"individual_scores"`
	EditDistance int                `json:"edit_distance"`
}

// Ranking is the result of Rank.
type Ranking struct {
	Query      string         `json:"query"`
	Normalized string         `json:"normalized"`
	Weights    ranker.Weights `json:"weights_used"`
	Results    []Ranked       `json:"results"`
	BestScore  float64        `json:"best_score"`
	Candidates int            `json:"candidates"`
}

// Best returns the top result, or nil.
func (r *Ranking) Best() *Ranked {
	if len(r.Results) == 0 {
		return nil
	}
	return &r.Results[0]
}

// Rank scores lines with caller-supplied weights and returns the topK best
// above RankMinScore, each with every metric's individual score. Lines that
// share no word with the query are skipped unless the query is short.
func (e *Executor) Rank(ctx context.Context, query string, weights ranker.Weights, topK int) (*Ranking, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if topK <= 0 {
		topK = 10
	}
	plan := parser.Parse(query)
	out := &Ranking{Query: query, Normalized: plan.Normalized, Weights: weights, Results: []Ranked{}}
	if plan.Empty() {
		return out, nil
	}

	scorer := weights.Scorer()
	top := merger.NewTopK(topK)
	breakdowns := make(map[int]map[string]float64)
	for _, id := range e.rankCandidates(plan) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		text := e.corpus.Text(id)
		if utf8.RuneCountInString(text) < minLineRunes {
			continue
		}
		score, scores := scorer.Breakdown(plan.Normalized, text)
		out.Candidates++
		if score <= RankMinScore {
			continue
		}
		breakdowns[id] = scores
		top.Push(merger.Scored{LineID: id, Score: score})
	}

	for _, s := range top.Results() {
		out.Results = append(out.Results, e.ranked(plan.Normalized, s, breakdowns[s.LineID]))
	}
	if best := out.Best(); best != nil {
		out.BestScore = best.Score
	}
	return out, nil
}

// RankByMetric ranks every line by each metric on its own.
func (e *Executor) RankByMetric(ctx context.Context, query string, topK int) (map[string][]Ranked, error) {
	if topK <= 0 {
		topK = 5
	}
	plan := parser.Parse(query)
	out := make(map[string][]Ranked, len(similarity.Metrics))
	for _, name := range similarity.MetricNames() {
		out[name] = []Ranked{}
	}
	if plan.Empty() {
		return out, nil
	}
	tops := make(map[string]*merger.TopK, len(similarity.Metrics))
	for _, name := range similarity.MetricNames() {
		tops[name] = merger.NewTopK(topK)
	}
	for id := 1; id <= e.corpus.Len(); id++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		text := e.corpus.Text(id)
		for _, name := range similarity.MetricNames() {
			s := similarity.Metrics[name](plan.Normalized, text)
			if s > RankMinScore {
				tops[name].Push(merger.Scored{LineID: id, Score: s})
			}
		}
	}
	for name, top := range tops {
		for _, s := range top.Results() {
			out[name] = append(out[name], e.ranked(plan.Normalized, s, nil))
		}
	}
	return out, nil
}

// CompareWeights ranks the same query under several weight sets.
func (e *Executor) CompareWeights(ctx context.Context, query string, sets []ranker.Weights, topK int) ([]*Ranking, error) {
	out := make([]*Ranking, 0, len(sets))
	for i, w := range sets {
		r, err := e.Rank(ctx, query, w, topK)
		if err != nil {
			return nil, fmt.Errorf("weight set %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Executor) rankCandidates(plan *parser.QueryPlan) []int {
	if utf8.RuneCountInString(plan.Normalized) >= shortQueryRunes {
		if ids, ok := e.retriever.Overlap(plan.Words); ok {
			return ids
		}
	}
	all := make([]int, e.corpus.Len())
	for i := range all {
		all[i] = i + 1
	}
	return all
}

func (e *Executor) ranked(query string, s merger.Scored, scores map[string]float64) Ranked {
	text := e.corpus.Text(s.LineID)
	r := Ranked{
		LineID:       s.LineID,
		Text:         text,
		Score:        ranker.Round(s.Score),
		Scores:       scores,
		EditDistance: similarity.EditDistance(query, text),
	}
	if sec, ok := e.corpus.SectionOf(s.LineID); ok {
		r.SectionID = sec.ID
	}
	return r
}

// CandidateLine is a sampled candidate in a diagnostics report.
type CandidateLine struct {
	LineID    int    `json:"line_id"`
	SectionID string `json:"section_id"`
	Text      string `json:"text"`
}

// CandidateReport describes what retrieval produced for a query.
type CandidateReport struct {
	Query      string                            `json:"query"`
	Normalized string                            `json:"normalized"`
	Words      []string                          `json:"words"`
	Stage      retriever.Stage                   `json:"stage"`
	FullScan   bool                              `json:"full_scan"`
	Truncated  bool                              `json:"truncated"`
	Count      int                               `json:"count"`
	Sample     []CandidateLine                   `json:"sample"`
	Expansions map[string][]string               `json:"expansions,omitempty"`
	WordHits   map[string]int                    `json:"word_hits"`
	Fuzzy      map[string][]retriever.TokenMatch `json:"fuzzy,omitempty"`
}

// Candidates runs retrieval alone and reports the outcome.
func (e *Executor) Candidates(ctx context.Context, query string) (*CandidateReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	plan := parser.Parse(query)
	res := e.retriever.Retrieve(plan.Words, retriever.Scope{})
	rep := &CandidateReport{
		Query:      query,
		Normalized: plan.Normalized,
		Words:      plan.Words,
		Stage:      res.Stage,
		FullScan:   res.FullScan,
		Truncated:  res.Truncated,
		Count:      len(res.IDs),
		Sample:     []CandidateLine{},
		Expansions: res.Expansions,
		WordHits:   make(map[string]int, len(plan.Words)),
	}
	if res.FullScan {
		rep.Count = e.corpus.Len()
	}
	for _, w := range plan.Words {
		ids, _ := e.retriever.Overlap([]string{w})
		rep.WordHits[w] = len(ids)
	}
	if res.Stage == retriever.StageFuzzy {
		rep.Fuzzy = make(map[string][]retriever.TokenMatch, len(res.Expansions))
		for w := range res.Expansions {
			rep.Fuzzy[w] = e.retriever.Expand(w)
		}
	}
	sample := res.IDs
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	for _, id := range sample {
		line := CandidateLine{LineID: id, Text: e.corpus.Text(id)}
		if sec, ok := e.corpus.SectionOf(id); ok {
			line.SectionID = sec.ID
		}
		rep.Sample = append(rep.Sample, line)
	}
	return rep, nil
}
