// Package analytics turns match and tracker events into running statistics.
// Services publish events to the analytics topic; the aggregator consumes
// them, serves live stats and snapshots them to SQL.
package analytics

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

// NewMatchEvent describes one search result for the analytics topic.
func NewMatchEvent(res executor.Result, elapsed time.Duration, at time.Time) proto.AnalyticsEvent {
	return proto.AnalyticsEvent{
		Type:      proto.EventMatch,
		Timestamp: at.UTC(),
		Match: &proto.MatchEvent{
			Query:      res.Normalized,
			Found:      res.Found,
			Weak:       res.Weak,
			Score:      res.Score,
			SectionID:  res.SectionID,
			Stage:      string(res.Stage),
			Candidates: res.Candidates,
			LatencyMs:  float64(elapsed.Microseconds()) / 1000,
			Cached:     res.Cached,
		},
	}
}

// EventKey picks the partition key: the session for tracker events, the
// normalized query for match events.
func EventKey(ev proto.AnalyticsEvent) string {
	switch {
	case ev.Tracker != nil:
		return ev.Tracker.SessionID
	case ev.Match != nil:
		return ev.Match.Query
	default:
		return ev.Type
	}
}
