// Package executor runs match queries: retrieve candidates, score them
// against the query, then grow the best anchors into short multi-line spans.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/span"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/tracing"
)

// Outcomes reported to the Observer.
const (
	OutcomeMatch   = "match"
	OutcomeWeak    = "weak"
	OutcomeNoMatch = "no_match"
	OutcomeEmpty   = "empty"
)

type Params struct {
	Threshold   float64
	DecentFloor float64
	EarlyExit   float64
	MaxAnchors  int
	ScanShards  int
	Weights     ranker.Weights
}

func DefaultParams() Params {
	return Params{
		Threshold:   40,
		DecentFloor: 55,
		EarlyExit:   95,
		MaxAnchors:  3,
		ScanShards:  4,
		Weights:     ranker.LineWeights,
	}
}

func ParamsFromConfig(cfg config.MatchConfig) Params {
	return Params{
		Threshold:   cfg.Threshold,
		DecentFloor: cfg.DecentFloor,
		EarlyExit:   cfg.EarlyExit,
		MaxAnchors:  cfg.MaxAnchors,
		ScanShards:  cfg.ScanShards,
		Weights:     ranker.FromConfig(cfg.Weights),
	}
}

// Result is the outcome of one search. Found=false is a normal outcome;
// Score then holds the best anchor score seen, if any.
type Result struct {
	Query       string           `json:"query"`
	Normalized  string           `json:"normalized"`
	Found       bool             `json:"found"`
	Weak        bool             `json:"weak"`
	Text        string           `json:"text,omitempty"`
	LineID      int              `json:"line_id,omitempty"`
	Span        span.Span        `json:"span"`
	SectionID   string           `json:"section_id,omitempty"`
	Score       float64          `json:"score"`
	AnchorScore float64          `json:"anchor_score"`
	Stage       retriever.Stage  `json:"stage"`
	Candidates  int              `json:"candidates"`
	EarlyExit   bool             `json:"early_exit"`
	Cached      bool             `json:"cached"`
	TimingsUs   map[string]int64 `json:"timings_us,omitempty"`
}

// Match converts a found result into the collaborator shape, or nil.
func (r Result) Match() *proto.Match {
	if !r.Found {
		return nil
	}
	return &proto.Match{
		MatchedText: r.Text,
		SectionID:   r.SectionID,
		Score:       r.Score,
		LineID:      r.LineID,
	}
}

// Observer receives one call per computed (not cached) search.
type Observer interface {
	ObserveMatch(outcome, stage string, candidates, spanLines int, elapsed time.Duration)
}

type Option func(*Executor)

// WithCache memoizes results. Keys include the normalized query, the
// threshold and the section restriction.
func WithCache(c *cache.Cache[Result]) Option {
	return func(e *Executor) { e.cache = c }
}

func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// Executor is safe for concurrent use; it only reads the corpus and index.
type Executor struct {
	corpus    *corpus.Corpus
	retriever *retriever.Retriever
	scorer    *ranker.Scorer
	params    Params
	cache     *cache.Cache[Result]
	observer  Observer
	logger    *slog.Logger
}

func New(c *corpus.Corpus, r *retriever.Retriever, p Params, opts ...Option) *Executor {
	if p.MaxAnchors <= 0 {
		p.MaxAnchors = 1
	}
	if p.Weights == nil {
		p.Weights = ranker.LineWeights
	}
	e := &Executor{
		corpus:    c,
		retriever: r,
		scorer:    p.Weights.Scorer(),
		params:    p,
		logger:    slog.Default().With("component", "match-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Params() Params { return e.params }

func (e *Executor) Corpus() *corpus.Corpus { return e.corpus }

// Search finds the best span for query anywhere in the corpus.
func (e *Executor) Search(ctx context.Context, query string, threshold float64) (Result, error) {
	return e.search(ctx, query, threshold, nil)
}

// SearchGlobal searches with the configured threshold and returns the
// collaborator view of the result. Weak matches are included.
func (e *Executor) SearchGlobal(ctx context.Context, query string) (*proto.Match, error) {
	res, err := e.Search(ctx, query, e.params.Threshold)
	if err != nil {
		return nil, err
	}
	return res.Match(), nil
}

// SearchSection is SearchGlobal restricted to one section. Spans never cross
// the section's bounds.
func (e *Executor) SearchSection(ctx context.Context, sectionID, query string) (*proto.Match, error) {
	sec, ok := e.corpus.Section(sectionID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown section %q", apperrors.ErrInvalidInput, sectionID)
	}
	res, err := e.search(ctx, query, e.params.Threshold, &sec)
	if err != nil {
		return nil, err
	}
	return res.Match(), nil
}

func (e *Executor) search(ctx context.Context, query string, threshold float64, sec *corpus.Section) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	plan := parser.Parse(query)
	if plan.Empty() {
		e.observe(OutcomeEmpty, retriever.StageNone, 0, 0, 0)
		return Result{Query: query, Stage: retriever.StageNone}, nil
	}
	if e.cache == nil {
		return e.compute(ctx, plan, threshold, sec), nil
	}

	sectionKey := ""
	if sec != nil {
		sectionKey = sec.ID
	}
	key := e.cache.Key("search", plan.Normalized, threshold, sectionKey)
	res, cached, err := e.cache.GetOrCompute(ctx, key, func() (Result, error) {
		return e.compute(ctx, plan, threshold, sec), nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("computing match: %w", err)
	}
	res.Query = query
	res.Cached = cached
	return res, nil
}

func (e *Executor) compute(ctx context.Context, plan *parser.QueryPlan, threshold float64, sec *corpus.Section) Result {
	start := time.Now()
	ctx, root := tracing.StartSpan(ctx, "match", "")

	first, last := 1, e.corpus.Len()
	scope := retriever.Scope{}
	if sec != nil {
		first, last = sec.First, sec.Last
		scope = retriever.Scope{First: sec.First, Last: sec.Last}
	}

	_, rs := tracing.StartChildSpan(ctx, "retrieve")
	cand := e.retriever.Retrieve(plan.Words, scope)
	rs.SetAttr("stage", string(cand.Stage))
	rs.SetAttr("candidates", len(cand.IDs))
	rs.End()

	_, ss := tracing.StartChildSpan(ctx, "score")
	anchors, scored, early := e.scoreCandidates(plan.Normalized, cand, first, last)
	ss.SetAttr("scored", scored)
	ss.End()

	res := Result{
		Query:      plan.RawQuery,
		Normalized: plan.Normalized,
		Stage:      cand.Stage,
		Candidates: scored,
		EarlyExit:  early,
	}

	outcome := OutcomeNoMatch
	spanLines := 0
	if len(anchors) > 0 {
		best := anchors[0]
		res.AnchorScore = ranker.Round(best.Score)
		res.Score = res.AnchorScore
		if best.Score >= threshold || best.Score >= e.params.DecentFloor {
			_, xs := tracing.StartChildSpan(ctx, "extend")
			win, winScore, anchor := e.extend(plan.Normalized, anchors, first, last)
			xs.SetAttr("span_lines", win.Len())
			xs.End()

			res.Found = true
			res.Weak = best.Score < threshold
			res.Text = span.Text(e.corpus, win)
			res.LineID = anchor
			res.Span = win
			res.Score = ranker.Round(winScore)
			if s, ok := e.corpus.SectionOf(anchor); ok {
				res.SectionID = s.ID
			}
			outcome = OutcomeMatch
			if res.Weak {
				outcome = OutcomeWeak
			}
			spanLines = win.Len()
		}
	}

	root.SetAttr("outcome", outcome)
	root.End()
	res.TimingsUs = root.Timings()
	root.Log(e.logger)

	elapsed := time.Since(start)
	e.observe(outcome, cand.Stage, scored, spanLines, elapsed)
	e.logger.Debug("match computed",
		"query", plan.Normalized,
		"outcome", outcome,
		"stage", cand.Stage,
		"candidates", scored,
		"score", res.Score,
		"line_id", res.LineID,
		"elapsed", elapsed,
	)
	return res
}

// scoreCandidates scores candidates in ascending id order and keeps the
// best MaxAnchors. A full-scan result walks every line in [first, last].
// It stops at the first score reaching EarlyExit.
func (e *Executor) scoreCandidates(query string, cand retriever.Result, first, last int) ([]merger.Scored, int, bool) {
	if cand.FullScan {
		return e.fullScan(query, first, last)
	}
	top := merger.NewTopK(e.params.MaxAnchors)
	scored := 0
	for _, id := range cand.IDs {
		s := e.scorer.Score(query, e.corpus.Text(id))
		scored++
		top.Push(merger.Scored{LineID: id, Score: s})
		if s >= e.params.EarlyExit {
			return top.Results(), scored, true
		}
	}
	return top.Results(), scored, false
}

// extend scores the windows around each anchor and returns the best span,
// its score and the anchor it grew from. A window replaces the current best
// only when strictly better, so the unextended best anchor wins ties.
func (e *Executor) extend(query string, anchors []merger.Scored, first, last int) (span.Span, float64, int) {
	best := span.Span{Start: anchors[0].LineID, End: anchors[0].LineID}
	bestScore := anchors[0].Score
	bestAnchor := anchors[0].LineID

	seen := make(map[span.Span]struct{}, len(anchors)*6)
	for _, a := range anchors {
		seen[span.Span{Start: a.LineID, End: a.LineID}] = struct{}{}
	}
	for _, a := range anchors {
		for _, w := range span.Windows(a.LineID, first, last) {
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			s := e.scorer.Score(query, span.Text(e.corpus, w))
			if s > bestScore {
				best, bestScore, bestAnchor = w, s, a.LineID
			}
		}
	}
	return best, bestScore, bestAnchor
}

func (e *Executor) observe(outcome string, stage retriever.Stage, candidates, spanLines int, elapsed time.Duration) {
	if e.observer != nil {
		e.observer.ObserveMatch(outcome, string(stage), candidates, spanLines, elapsed)
	}
}
