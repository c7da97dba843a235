package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestChildSpansShareTrace(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "match", "")
	if root.TraceID == "" {
		t.Fatal("root span needs a trace id")
	}
	_, retrieve := StartChildSpan(ctx, "retrieve")
	retrieve.End()
	_, score := StartChildSpan(ctx, "score")
	score.SetAttr("candidates", 4)
	score.End()
	root.End()

	if retrieve.TraceID != root.TraceID || len(root.Children) != 2 {
		t.Errorf("children = %d, trace %q vs %q", len(root.Children), retrieve.TraceID, root.TraceID)
	}
	timings := root.Timings()
	if _, ok := timings["score"]; !ok {
		t.Errorf("timings = %v", timings)
	}
}

func TestDetachedChild(t *testing.T) {
	_, s := StartChildSpan(context.Background(), "orphan")
	s.End()
	if s.TraceID != "" {
		t.Errorf("detached span trace id = %q", s.TraceID)
	}
}

func TestLogOnlyAtDebug(t *testing.T) {
	_, root := StartSpan(context.Background(), "match", "t-1")
	root.End()

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	if buf.Len() != 0 {
		t.Errorf("info logger wrote %q", buf.String())
	}
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	if !strings.Contains(buf.String(), "trace_id=t-1") {
		t.Errorf("debug output = %q", buf.String())
	}
}
