// Package retriever narrows a query down to the corpus lines worth scoring.
// Strategies run in order (exact tokens, then fuzzy tokens) and the first
// one that produces candidates wins. When none does, the result asks the
// caller to scan every line instead.
package retriever

import (
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
)

// Stage names the step that produced a candidate set.
type Stage string

const (
	StageNone     Stage = "none"
	StageExact    Stage = "exact"
	StageFuzzy    Stage = "fuzzy"
	StageFullScan Stage = "full_scan"
)

// Scope restricts candidates to the inclusive id range [First, Last].
// The zero Scope is unrestricted.
type Scope struct {
	First int
	Last  int
}

func (s Scope) contains(id int) bool {
	if s.First == 0 && s.Last == 0 {
		return true
	}
	return id >= s.First && id <= s.Last
}

func (s Scope) filter(ids index.PostingList) index.PostingList {
	if s.First == 0 && s.Last == 0 {
		return ids
	}
	out := make(index.PostingList, 0, len(ids))
	for _, id := range ids {
		if s.contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Result is a candidate set. IDs ascend. FullScan means the caller should
// evaluate every line in scope; IDs is then empty.
type Result struct {
	IDs        index.PostingList   `json:"ids"`
	Stage      Stage               `json:"stage"`
	FullScan   bool                `json:"full_scan"`
	Truncated  bool                `json:"truncated,omitempty"`
	Expansions map[string][]string `json:"expansions,omitempty"`
}

// Params tune the strategies.
type Params struct {
	IntersectionMin     int
	FuzzyWordThreshold  float64
	FuzzyWordMaxMatches int
	FuzzyWordMinLen     int
	MaxCandidates       int
}

func DefaultParams() Params {
	return Params{
		IntersectionMin:     5,
		FuzzyWordThreshold:  80,
		FuzzyWordMaxMatches: 3,
		FuzzyWordMinLen:     3,
	}
}

func ParamsFromConfig(cfg config.RetrieverConfig) Params {
	return Params{
		IntersectionMin:     cfg.IntersectionMin,
		FuzzyWordThreshold:  cfg.FuzzyWordThreshold,
		FuzzyWordMaxMatches: cfg.FuzzyWordMaxMatches,
		FuzzyWordMinLen:     cfg.FuzzyWordMinLen,
		MaxCandidates:       cfg.MaxCandidates,
	}
}

// Strategy produces candidates for a list of query words. An empty result
// defers to the next strategy.
type Strategy interface {
	Stage() Stage
	Candidates(words []string, scope Scope) (index.PostingList, map[string][]string)
}

type Retriever struct {
	index      *index.TokenIndex
	strategies []Strategy
	params     Params
	logger     *slog.Logger
}

// New builds the exact then fuzzy pipeline over idx. A nil idx is allowed
// and makes every non-empty query a full scan.
func New(idx *index.TokenIndex, p Params) *Retriever {
	r := &Retriever{
		index:  idx,
		params: p,
		logger: slog.Default().With("component", "retriever"),
	}
	if idx != nil {
		r.strategies = []Strategy{
			&ExactStrategy{Index: idx, IntersectionMin: p.IntersectionMin},
			NewFuzzyStrategy(idx, p),
		}
	}
	return r
}

// Retrieve runs the strategies in order for the given words.
func (r *Retriever) Retrieve(words []string, scope Scope) Result {
	if len(words) == 0 {
		return Result{Stage: StageNone}
	}
	for _, s := range r.strategies {
		ids, expansions := s.Candidates(words, scope)
		if len(ids) == 0 {
			continue
		}
		res := Result{IDs: ids, Stage: s.Stage(), Expansions: expansions}
		if r.params.MaxCandidates > 0 && len(res.IDs) > r.params.MaxCandidates {
			res.IDs = res.IDs[:r.params.MaxCandidates]
			res.Truncated = true
		}
		r.logger.Debug("candidates retrieved",
			"stage", res.Stage,
			"words", len(words),
			"candidates", len(res.IDs),
			"truncated", res.Truncated,
		)
		return res
	}
	r.logger.Debug("no candidates, falling back to full scan", "words", len(words))
	return Result{Stage: StageFullScan, FullScan: true}
}

// Overlap returns every line sharing at least one word with the query. ok is
// false when there is no index to consult.
func (r *Retriever) Overlap(words []string) (ids index.PostingList, ok bool) {
	if r.index == nil {
		return nil, false
	}
	for _, w := range words {
		ids = index.Union(ids, r.index.Postings(w))
	}
	return ids, true
}

// Expand exposes the fuzzy token expansion for diagnostics.
func (r *Retriever) Expand(word string) []TokenMatch {
	if r.index == nil {
		return nil
	}
	return NewFuzzyStrategy(r.index, r.params).Expand(word)
}

// ExactStrategy seeds from the first word's postings and folds in each later
// word by intersection, switching to union for any word whose intersection
// would leave fewer than IntersectionMin lines.
type ExactStrategy struct {
	Index           *index.TokenIndex
	IntersectionMin int
}

func (s *ExactStrategy) Stage() Stage { return StageExact }

func (s *ExactStrategy) Candidates(words []string, scope Scope) (index.PostingList, map[string][]string) {
	acc := scope.filter(s.Index.Postings(words[0]))
	for _, w := range words[1:] {
		postings := scope.filter(s.Index.Postings(w))
		narrowed := index.Intersect(acc, postings)
		if len(narrowed) >= s.IntersectionMin {
			acc = narrowed
		} else {
			acc = index.Union(acc, postings)
		}
	}
	return acc, nil
}

// FuzzyStrategy expands each sufficiently long query word to the index
// tokens it resembles and unions their postings.
type FuzzyStrategy struct {
	Index      *index.TokenIndex
	Threshold  float64
	MaxMatches int
	MinLen     int
	scorer     *ranker.Scorer
}

func NewFuzzyStrategy(idx *index.TokenIndex, p Params) *FuzzyStrategy {
	return &FuzzyStrategy{
		Index:      idx,
		Threshold:  p.FuzzyWordThreshold,
		MaxMatches: p.FuzzyWordMaxMatches,
		MinLen:     p.FuzzyWordMinLen,
		scorer:     ranker.WordWeights.Scorer(),
	}
}

func (s *FuzzyStrategy) Stage() Stage { return StageFuzzy }

// TokenMatch is an index token similar to a query word.
type TokenMatch struct {
	Token string  `json:"token"`
	Score float64 `json:"score"`
}

func (s *FuzzyStrategy) Candidates(words []string, scope Scope) (index.PostingList, map[string][]string) {
	var acc index.PostingList
	expansions := make(map[string][]string)
	for _, w := range words {
		if utf8.RuneCountInString(w) < s.MinLen {
			continue
		}
		if _, done := expansions[w]; done {
			continue
		}
		matches := s.Expand(w)
		tokens := make([]string, 0, len(matches))
		for _, m := range matches {
			tokens = append(tokens, m.Token)
			acc = index.Union(acc, scope.filter(s.Index.Postings(m.Token)))
		}
		expansions[w] = tokens
	}
	return acc, expansions
}

// Expand returns up to MaxMatches index tokens scoring at least Threshold
// against word, best first.
func (s *FuzzyStrategy) Expand(word string) []TokenMatch {
	var matches []TokenMatch
	for _, tok := range s.Index.Tokens() {
		score := s.scorer.Score(word, tok)
		if score >= s.Threshold {
			matches = append(matches, TokenMatch{Token: tok, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if s.MaxMatches > 0 && len(matches) > s.MaxMatches {
		matches = matches[:s.MaxMatches]
	}
	return matches
}
