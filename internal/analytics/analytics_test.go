package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

func match(q string, found, weak bool, section string, latency float64) proto.AnalyticsEvent {
	return proto.AnalyticsEvent{
		Type: proto.EventMatch,
		Match: &proto.MatchEvent{
			Query: q, Found: found, Weak: weak, Score: 80, SectionID: section,
			Stage: "exact", LatencyMs: latency,
		},
	}
}

func tracker(session, status string) proto.AnalyticsEvent {
	return proto.AnalyticsEvent{
		Type:    proto.EventTracker,
		Tracker: &proto.TrackerEvent{SessionID: session, Status: status},
	}
}

func TestAggregatorStats(t *testing.T) {
	a := NewAggregator(100)
	events := []proto.AnalyticsEvent{
		match("ਸਤਿ ਨਾਮੁ", true, false, "mool", 1),
		match("ਸਤਿ ਨਾਮੁ", true, false, "mool", 2),
		match("ਹੁਕਮੀ", true, true, "japji-2", 3),
		match("xyz", false, false, "", 4),
		tracker("s1", "confirmed"),
		tracker("s1", "tracking"),
		tracker("s2", "drift_detected"),
	}
	for _, ev := range events {
		if err := a.Record(ev); err != nil {
			t.Fatal(err)
		}
	}

	s := a.Stats()
	if s.TotalSearches != 4 || s.Matches != 2 || s.WeakMatches != 1 || s.NoMatches != 1 {
		t.Errorf("counts = %+v", s)
	}
	if s.MatchRate != 0.75 || s.AvgScore != 80 || s.AvgLatencyMs != 2.5 {
		t.Errorf("rate=%v score=%v latency=%v", s.MatchRate, s.AvgScore, s.AvgLatencyMs)
	}
	if len(s.TopQueries) == 0 || s.TopQueries[0].Key != "ਸਤਿ ਨਾਮੁ" || s.TopQueries[0].Count != 2 {
		t.Errorf("top queries = %+v", s.TopQueries)
	}
	if len(s.NoMatchQueries) != 1 || s.NoMatchQueries[0].Key != "xyz" {
		t.Errorf("no-match queries = %+v", s.NoMatchQueries)
	}
	if s.TopSections[0].Key != "mool" || s.Stages["exact"] != 4 {
		t.Errorf("sections=%+v stages=%+v", s.TopSections, s.Stages)
	}
	if s.Sessions != 2 || s.Drifts != 1 || s.TrackerChunks["tracking"] != 1 {
		t.Errorf("tracker stats: sessions=%d drifts=%d chunks=%v", s.Sessions, s.Drifts, s.TrackerChunks)
	}
}

func TestLatencyWindowIsBounded(t *testing.T) {
	a := NewAggregator(3)
	for i := 1; i <= 10; i++ {
		a.Record(match("q", true, false, "s", float64(i)))
	}
	s := a.Stats()
	if s.AvgLatencyMs != 9 || s.P99LatencyMs != 10 {
		t.Errorf("avg=%v p99=%v, want the last three samples", s.AvgLatencyMs, s.P99LatencyMs)
	}
}

func TestHandlerRejectsUnknownEvents(t *testing.T) {
	a := NewAggregator(10)
	h := a.Handler()
	ctx := context.Background()

	if err := h(ctx, nil, []byte(`{"type":"bogus"}`)); !errors.Is(err, kafka.ErrPoison) {
		t.Errorf("unknown type: %v", err)
	}
	if err := h(ctx, nil, []byte(`not json`)); !errors.Is(err, kafka.ErrPoison) {
		t.Errorf("bad json: %v", err)
	}
	raw, _ := json.Marshal(tracker("s9", "tracking"))
	if err := h(ctx, []byte("s9"), raw); err != nil {
		t.Fatal(err)
	}
	if a.Stats().Sessions != 1 {
		t.Error("tracker event not recorded")
	}
}

func TestNewMatchEvent(t *testing.T) {
	res := executor.Result{
		Normalized: "ਸਤਿ ਨਾਮੁ",
		Found:      true,
		Score:      97.5,
		SectionID:  "mool",
		Stage:      retriever.StageExact,
		Candidates: 3,
		Cached:     true,
	}
	ev := NewMatchEvent(res, 1500*time.Microsecond, time.Unix(0, 0))
	if ev.Type != proto.EventMatch || ev.Match.LatencyMs != 1.5 || !ev.Match.Cached || ev.Match.Stage != string(retriever.StageExact) {
		t.Errorf("event = %+v", ev.Match)
	}
	if EventKey(ev) != "ਸਤਿ ਨਾਮੁ" || EventKey(tracker("s1", "x")) != "s1" {
		t.Error("EventKey")
	}
}

func TestStatsEndpoint(t *testing.T) {
	a := NewAggregator(10)
	a.Record(match("q", true, false, "s", 1))
	h := NewHandler(a, nil)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	var s Stats
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || s.TotalSearches != 1 {
		t.Errorf("code=%d stats=%+v", rec.Code, s)
	}

	rec = httptest.NewRecorder()
	h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("snapshots without store: %d", rec.Code)
	}
}
