package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

const topN = 10

type Stats struct {
	TotalSearches    int64            `json:"total_searches"`
	Matches          int64            `json:"matches"`
	WeakMatches      int64            `json:"weak_matches"`
	NoMatches        int64            `json:"no_matches"`
	CachedSearches   int64            `json:"cached_searches"`
	MatchRate        float64          `json:"match_rate"`
	AvgScore         float64          `json:"avg_score"`
	AvgLatencyMs     float64          `json:"avg_latency_ms"`
	P50LatencyMs     float64          `json:"p50_latency_ms"`
	P95LatencyMs     float64          `json:"p95_latency_ms"`
	P99LatencyMs     float64          `json:"p99_latency_ms"`
	Stages           map[string]int64 `json:"stages"`
	TopQueries       []Count          `json:"top_queries"`
	NoMatchQueries   []Count          `json:"no_match_queries"`
	TopSections      []Count          `json:"top_sections"`
	TrackerChunks    map[string]int64 `json:"tracker_chunks"`
	Sessions         int              `json:"sessions_seen"`
	Drifts           int64            `json:"drifts"`
	QueriesPerMinute float64          `json:"queries_per_minute"`
	Since            time.Time        `json:"since"`
}

type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Aggregator keeps running counters plus a bounded window of recent
// latencies for percentiles. Safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	searches  int64
	matches   int64
	weak      int64
	noMatch   int64
	cached    int64
	scoreSum  float64
	latencies []float64
	next      int
	window    int
	stages    map[string]int64
	queries   map[string]int64
	missed    map[string]int64
	sections  map[string]int64
	chunks    map[string]int64
	sessions  map[string]struct{}
	drifts    int64
	start     time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// NewAggregator keeps the last window latencies (10000 if window <= 0).
func NewAggregator(window int) *Aggregator {
	if window <= 0 {
		window = 10000
	}
	return &Aggregator{
		window:   window,
		stages:   make(map[string]int64),
		queries:  make(map[string]int64),
		missed:   make(map[string]int64),
		sections: make(map[string]int64),
		chunks:   make(map[string]int64),
		sessions: make(map[string]struct{}),
		start:    time.Now(),
		now:      time.Now,
		logger:   slog.Default().With("component", "analytics-aggregator"),
	}
}

// Record folds one event into the stats.
func (a *Aggregator) Record(ev proto.AnalyticsEvent) error {
	switch {
	case ev.Type == proto.EventMatch && ev.Match != nil:
		a.recordMatch(ev.Match)
	case ev.Type == proto.EventTracker && ev.Tracker != nil:
		a.recordTracker(ev.Tracker)
	default:
		return fmt.Errorf("%w: unknown analytics event %q", kafka.ErrPoison, ev.Type)
	}
	return nil
}

func (a *Aggregator) recordMatch(m *proto.MatchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.searches++
	switch {
	case m.Found && m.Weak:
		a.weak++
	case m.Found:
		a.matches++
	default:
		a.noMatch++
		a.missed[m.Query]++
	}
	if m.Found {
		a.scoreSum += m.Score
		if m.SectionID != "" {
			a.sections[m.SectionID]++
		}
	}
	if m.Cached {
		a.cached++
	}
	a.stages[m.Stage]++
	a.queries[m.Query]++

	if len(a.latencies) < a.window {
		a.latencies = append(a.latencies, m.LatencyMs)
	} else {
		a.latencies[a.next] = m.LatencyMs
		a.next = (a.next + 1) % a.window
	}
}

func (a *Aggregator) recordTracker(t *proto.TrackerEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chunks[t.Status]++
	a.sessions[t.SessionID] = struct{}{}
	if t.Status == "drift_detected" {
		a.drifts++
	}
}

// Handler adapts Record to a Kafka message handler.
func (a *Aggregator) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[proto.AnalyticsEvent](value)
		if err != nil {
			return err
		}
		return a.Record(ev)
	}
}

func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		TotalSearches:  a.searches,
		Matches:        a.matches,
		WeakMatches:    a.weak,
		NoMatches:      a.noMatch,
		CachedSearches: a.cached,
		Stages:         copyCounts(a.stages),
		TopQueries:     top(a.queries, topN),
		NoMatchQueries: top(a.missed, topN),
		TopSections:    top(a.sections, topN),
		TrackerChunks:  copyCounts(a.chunks),
		Sessions:       len(a.sessions),
		Drifts:         a.drifts,
		Since:          a.start.UTC(),
	}
	if found := a.matches + a.weak; found > 0 {
		s.AvgScore = round2(a.scoreSum / float64(found))
	}
	if a.searches > 0 {
		s.MatchRate = round2(float64(a.matches+a.weak) / float64(a.searches))
	}
	if len(a.latencies) > 0 {
		sorted := append([]float64(nil), a.latencies...)
		sort.Float64s(sorted)
		var sum float64
		for _, l := range sorted {
			sum += l
		}
		s.AvgLatencyMs = round2(sum / float64(len(sorted)))
		s.P50LatencyMs = percentile(sorted, 50)
		s.P95LatencyMs = percentile(sorted, 95)
		s.P99LatencyMs = percentile(sorted, 99)
	}
	if mins := a.now().Sub(a.start).Minutes(); mins > 0 {
		s.QueriesPerMinute = round2(float64(a.searches) / mins)
	}
	return s
}

func percentile(sorted []float64, pct int) float64 {
	idx := pct * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// top returns the n largest counts, ties broken by key.
func top(counts map[string]int64, n int) []Count {
	out := make([]Count, 0, len(counts))
	for k, c := range counts {
		out = append(out, Count{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
