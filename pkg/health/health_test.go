package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestRunStatuses(t *testing.T) {
	down := errors.New("connection refused")
	tests := []struct {
		name     string
		required error
		optional error
		want     Status
	}{
		{"all up", nil, nil, StatusUp},
		{"optional down", nil, down, StatusDegraded},
		{"required down", down, nil, StatusDown},
		{"both down", down, down, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("searcher")
			c.Require("corpus", PingCheck(pinger{tt.required}))
			c.Optional("redis", PingCheck(pinger{tt.optional}))
			r := c.Run(context.Background())
			if r.Status != tt.want {
				t.Errorf("status = %s, want %s", r.Status, tt.want)
			}
			if len(r.Components) != 2 || !r.Components["corpus"].Required || r.Components["redis"].Required {
				t.Errorf("components = %+v", r.Components)
			}
			if tt.optional != nil && r.Components["redis"].Message != down.Error() {
				t.Errorf("redis message = %q", r.Components["redis"].Message)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker("tracker")
	c.Optional("kafka", func(ctx context.Context) error { return errors.New("no brokers") })

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded should stay ready, got %d", rec.Code)
	}
	var r Report
	if err := json.NewDecoder(rec.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusDegraded || r.Service != "tracker" {
		t.Errorf("report = %+v", r)
	}

	c.Require("searcher", func(ctx context.Context) error { return errors.New("circuit open") })
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("required failure: code = %d", rec.Code)
	}
	if got := c.Names(); len(got) != 2 || got[0] != "kafka" {
		t.Errorf("Names = %v", got)
	}
}
