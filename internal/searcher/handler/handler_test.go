package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/corpus/corpustest"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/history"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/tracker"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/rpc"
)

type recordingCollector struct {
	mu     sync.Mutex
	events []proto.AnalyticsEvent
}

func (c *recordingCollector) Track(ev proto.AnalyticsEvent, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func newExecutor() *executor.Executor {
	c := corpustest.Sample()
	return executor.New(c, retriever.New(index.Build(c), retriever.DefaultParams()), executor.DefaultParams())
}

func newHistory(t *testing.T) *history.Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := history.New(ctx, db, 75)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.Routes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, &buf))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestSearch(t *testing.T) {
	col := &recordingCollector{}
	mux := newMux(New(newExecutor(), WithCollector(col)))

	rec := do(t, mux, http.MethodGet, "/api/v1/search?q="+url.QueryEscape(corpustest.Lines[0]), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	res := decode[executor.Result](t, rec)
	if !res.Found || res.Weak || res.LineID != 1 || res.SectionID != "mool" || res.Score < 95 {
		t.Errorf("result = %+v", res)
	}
	if len(col.events) != 1 || col.events[0].Match == nil || !col.events[0].Match.Found {
		t.Errorf("tracked events = %+v", col.events)
	}
}

func TestSearchValidation(t *testing.T) {
	mux := newMux(New(newExecutor()))
	tests := []struct {
		name   string
		target string
	}{
		{"missing query", "/api/v1/search"},
		{"bad threshold", "/api/v1/search?q=x&threshold=abc"},
		{"threshold out of range", "/api/v1/search?q=x&threshold=140"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, mux, http.MethodGet, tt.target, nil); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestTranscribe(t *testing.T) {
	mux := newMux(New(newExecutor()))

	rec := do(t, mux, http.MethodPost, "/api/v1/transcribe", map[string]any{
		"text":       corpustest.Lines[3],
		"confidence": 0.9,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	out := decode[transcribeResponse](t, rec)
	if !out.MatchFound || out.LineID != 4 || out.BestMatch == nil || out.BestScore == nil {
		t.Errorf("response = %+v", out)
	}
	if out.Confidence != 0.9 || out.TranscribedText != corpustest.Lines[3] {
		t.Errorf("echoed fields = %+v", out)
	}

	if rec := do(t, mux, http.MethodPost, "/api/v1/transcribe", map[string]any{"text": ""}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty text: status = %d", rec.Code)
	}
}

func TestCandidates(t *testing.T) {
	mux := newMux(New(newExecutor()))
	rec := do(t, mux, http.MethodGet, "/api/v1/candidates?q="+url.QueryEscape(corpustest.Lines[5]), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rep := decode[executor.CandidateReport](t, rec)
	if rep.Count == 0 || rep.Stage != retriever.StageExact {
		t.Errorf("report = %+v", rep)
	}
}

func TestCompareSavesHighScores(t *testing.T) {
	store := newHistory(t)
	mux := newMux(New(newExecutor(), WithHistory(store)))

	rec := do(t, mux, http.MethodPost, "/api/v1/compare", map[string]any{
		"query":      corpustest.Lines[2],
		"top_k":      3,
		"session_id": "s1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	out := decode[struct {
		Results      []executor.Ranked `json:"results"`
		BestScore    float64           `json:"best_score"`
		ComparisonID int64             `json:"comparison_id"`
		Saved        bool              `json:"saved"`
	}](t, rec)
	if len(out.Results) == 0 || out.Results[0].LineID != 3 || out.BestScore < 75 {
		t.Fatalf("ranking = %+v", out)
	}
	if !out.Saved || out.ComparisonID == 0 {
		t.Errorf("saved = %v id = %d", out.Saved, out.ComparisonID)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/history?limit=5", nil)
	hist := decode[struct {
		History []history.Record `json:"history"`
	}](t, rec)
	if len(hist.History) != 1 || hist.History[0].SessionID != "s1" {
		t.Errorf("history = %+v", hist.History)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/history/export", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "total_comparisons") {
		t.Errorf("export: status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestCompareRejectsBadWeights(t *testing.T) {
	mux := newMux(New(newExecutor()))
	rec := do(t, mux, http.MethodPost, "/api/v1/compare", map[string]any{
		"query":   "ਸਤਿ",
		"weights": map[string]float64{"no_such_metric": 1},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCompareWeightsAndMethods(t *testing.T) {
	mux := newMux(New(newExecutor()))

	rec := do(t, mux, http.MethodPost, "/api/v1/compare/weights", map[string]any{
		"query": corpustest.Lines[0],
		"weight_sets": []map[string]float64{
			{"ratio": 1},
			{"partial_ratio": 0.5, "token_set_ratio": 0.5},
		},
	})
	out := decode[struct {
		Comparisons []executor.Ranking `json:"comparisons"`
	}](t, rec)
	if len(out.Comparisons) != 2 {
		t.Errorf("comparisons = %d, want 2", len(out.Comparisons))
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/compare/individual", map[string]any{"query": corpustest.Lines[0]})
	ind := decode[struct {
		Results map[string][]executor.Ranked `json:"individual_method_results"`
	}](t, rec)
	if len(ind.Results) != 5 {
		t.Errorf("metrics = %d, want 5", len(ind.Results))
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/compare/methods", nil)
	methods := decode[struct {
		Methods []method `json:"methods"`
	}](t, rec)
	if len(methods.Methods) != 5 || methods.Methods[0].Description == "" {
		t.Errorf("methods = %+v", methods.Methods)
	}
}

func TestHistoryDisabled(t *testing.T) {
	mux := newMux(New(newExecutor()))
	if rec := do(t, mux, http.MethodGet, "/api/v1/history", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	exec := newExecutor()
	mgr := tracker.NewManager(exec, tracker.DefaultParams(), 0)
	mux := newMux(New(exec, WithSessions(mgr)))

	rec := do(t, mux, http.MethodPost, "/api/v1/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	id := decode[map[string]string](t, rec)["session_id"]

	rec = do(t, mux, http.MethodPost, "/api/v1/sessions/"+id+"/chunks", map[string]string{"text": corpustest.Lines[8]})
	out := decode[tracker.Outcome](t, rec)
	if out.Status != tracker.StatusConfirmed || out.AnchorID != "japji-2" {
		t.Fatalf("outcome = %+v", out)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/sessions/"+id, nil)
	info := decode[tracker.SessionInfo](t, rec)
	if !info.State.Confirmed || info.Chunks != 1 {
		t.Errorf("info = %+v", info)
	}

	if rec := do(t, mux, http.MethodDelete, "/api/v1/sessions/"+id, nil); rec.Code != http.StatusOK {
		t.Errorf("reset: status = %d", rec.Code)
	}
	info, _ = mgr.Get(id)
	if info.State.Confirmed {
		t.Error("session still confirmed after reset")
	}

	if rec := do(t, mux, http.MethodPost, "/api/v1/sessions/nope/chunks", map[string]string{"text": "x"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: status = %d", rec.Code)
	}
}

func TestSessionChunkWaitsForQuerySlot(t *testing.T) {
	exec := newExecutor()
	mgr := tracker.NewManager(exec, tracker.DefaultParams(), 0)
	h := New(exec, WithSessions(mgr), WithLimits(config.SearchConfig{MaxConcurrentQueries: 1}))
	mux := newMux(h)
	id := mgr.Create()

	// A search elsewhere holds the only slot.
	if err := h.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(chunkRequest{Text: corpustest.Lines[8]})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/chunks", bytes.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while the slot is held", rec.Code)
	}
	if info, _ := mgr.Get(id); info.Chunks != 0 {
		t.Errorf("chunk processed without a slot: %+v", info)
	}

	h.sem.Release(1)
	rec = do(t, mux, http.MethodPost, "/api/v1/sessions/"+id+"/chunks", map[string]string{"text": corpustest.Lines[8]})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d after release", rec.Code)
	}
	if !h.sem.TryAcquire(1) {
		t.Error("chunk did not release its slot")
	}
}

func TestBoundedSearcherSharesQuerySlots(t *testing.T) {
	exec := newExecutor()
	h := New(exec, WithLimits(config.SearchConfig{MaxConcurrentQueries: 1}))
	bounded := h.Bounded(exec)

	if err := h.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := bounded.SearchGlobal(ctx, corpustest.Lines[8]); !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("SearchGlobal with no free slot: %v", err)
	}

	type result struct {
		m   *proto.Match
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := bounded.SearchSection(context.Background(), "mool", corpustest.Lines[0])
		done <- result{m, err}
	}()
	select {
	case r := <-done:
		t.Fatalf("SearchSection ran without a slot: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	h.sem.Release(1)
	select {
	case r := <-done:
		if r.err != nil || r.m == nil || r.m.LineID != 1 {
			t.Errorf("SearchSection = %+v, %v", r.m, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SearchSection still waiting after release")
	}
}

func TestSessionsDisabled(t *testing.T) {
	mux := newMux(New(newExecutor()))
	if rec := do(t, mux, http.MethodPost, "/api/v1/sessions", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStream(t *testing.T) {
	exec := newExecutor()
	mgr := tracker.NewManager(exec, tracker.DefaultParams(), 0)
	srv := httptest.NewServer(newMux(New(exec, WithSessions(mgr))))
	defer srv.Close()
	id := mgr.Create()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	type reply struct {
		Seq     int64            `json:"seq"`
		Outcome *tracker.Outcome `json:"outcome"`
		Error   string           `json:"error"`
	}
	send := func(msg string) reply {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatal(err)
		}
		var r reply
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&r); err != nil {
			t.Fatal(err)
		}
		return r
	}

	r := send(corpustest.Lines[8])
	if r.Seq != 1 || r.Outcome == nil || r.Outcome.Status != tracker.StatusConfirmed {
		t.Fatalf("first reply = %+v", r)
	}
	raw, _ := json.Marshal(chunkRequest{Text: corpustest.Lines[9]})
	r = send(string(raw))
	if r.Seq != 2 || r.Outcome == nil || r.Outcome.Status != tracker.StatusTracking {
		t.Errorf("second reply = %+v", r)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	exec := newExecutor()
	mgr := tracker.NewManager(exec, tracker.DefaultParams(), 0)
	srv := httptest.NewServer(newMux(New(exec, WithSessions(mgr))))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/missing/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %v", resp)
	}
}

func TestChunkText(t *testing.T) {
	if got := chunkText([]byte(`{"text":"ਸਤਿ ਨਾਮੁ"}`)); got != "ਸਤਿ ਨਾਮੁ" {
		t.Errorf("json chunk = %q", got)
	}
	if got := chunkText([]byte("ਸਤਿ ਨਾਮੁ")); got != "ਸਤਿ ਨਾਮੁ" {
		t.Errorf("raw chunk = %q", got)
	}
}

func TestRPCCollaborators(t *testing.T) {
	s := rpc.NewServer()
	RegisterRPC(s, newExecutor(), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.ServeListener(ln)
	t.Cleanup(s.Stop)

	c := rpc.NewClient(ln.Addr().String(), time.Second)
	defer c.Close()
	ctx := context.Background()

	var resp proto.SearchResponse
	if err := c.Call(ctx, proto.MethodSearchGlobal, &proto.SearchGlobalRequest{Query: corpustest.Lines[8]}, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Found || resp.Match.SectionID != "japji-2" {
		t.Errorf("global = %+v", resp)
	}

	resp = proto.SearchResponse{}
	if err := c.Call(ctx, proto.MethodSearchSection, &proto.SearchSectionRequest{SectionID: "mool", Query: corpustest.Lines[0]}, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Found || resp.Match.LineID != 1 {
		t.Errorf("section = %+v", resp)
	}

	err = c.Call(ctx, proto.MethodSearchSection, &proto.SearchSectionRequest{SectionID: "nope", Query: "x"}, &resp)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("unknown section: %v", err)
	}

	var health proto.HealthCheckResponse
	if err := c.Call(ctx, proto.MethodHealth, struct{}{}, &health); err != nil || health.Status != "SERVING" {
		t.Errorf("health = %+v, %v", health, err)
	}
}

func TestRPCThroughRemoteSearcher(t *testing.T) {
	s := rpc.NewServer()
	RegisterRPC(s, newExecutor(), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.ServeListener(ln)
	t.Cleanup(s.Stop)

	c := rpc.NewClient(ln.Addr().String(), time.Second)
	defer c.Close()
	remote := tracker.NewRemoteSearcher(c, time.Second, nil)
	tr := tracker.New(remote, tracker.DefaultParams())

	out, err := tr.ProcessChunk(context.Background(), corpustest.Lines[8])
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != tracker.StatusConfirmed || out.AnchorID != "japji-2" {
		t.Errorf("outcome = %+v", out)
	}
}
