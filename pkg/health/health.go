// Package health runs readiness checks against a service's dependencies.
// A failed required check makes the service down; a failed optional one
// (a cache, an analytics sink) only degrades it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Pinger is anything with a context-aware Ping, such as the Redis and
// Postgres clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts p to a Check.
func PingCheck(p Pinger) Check {
	return p.Ping
}

type ComponentHealth struct {
	Status   Status `json:"status"`
	Required bool   `json:"required"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Service    string                     `json:"service"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type registered struct {
	check    Check
	required bool
}

type Checker struct {
	service string
	timeout time.Duration
	mu      sync.RWMutex
	checks  map[string]registered
}

func NewChecker(service string) *Checker {
	return &Checker{
		service: service,
		timeout: 5 * time.Second,
		checks:  make(map[string]registered),
	}
}

// Require registers a check whose failure takes the service down.
func (c *Checker) Require(name string, check Check) {
	c.register(name, check, true)
}

// Optional registers a check whose failure only degrades the service.
func (c *Checker) Optional(name string, check Check) {
	c.register(name, check, false)
}

func (c *Checker) register(name string, check Check, required bool) {
	c.mu.Lock()
	c.checks[name] = registered{check: check, required: required}
	c.mu.Unlock()
}

// Names lists registered checks in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for n := range c.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run executes every check concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for n, r := range c.checks {
		checks[n] = r
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Service:    c.service,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, r := range checks {
		wg.Add(1)
		go func(name string, r registered) {
			defer wg.Done()
			start := time.Now()
			err := r.check(ctx)
			ch := ComponentHealth{
				Status:   StatusUp,
				Required: r.required,
				Latency:  time.Since(start).Round(time.Microsecond).String(),
			}
			if err != nil {
				ch.Status = StatusDown
				ch.Message = err.Error()
			}
			mu.Lock()
			report.Components[name] = ch
			mu.Unlock()
		}(name, r)
	}
	wg.Wait()

	for _, ch := range report.Components {
		if ch.Status != StatusDown {
			continue
		}
		if ch.Required {
			report.Status = StatusDown
			break
		}
		report.Status = StatusDegraded
	}
	return report
}

// LiveHandler always answers 200 while the process is serving.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive", "service": c.service})
	}
}

// ReadyHandler answers 200 unless a required check fails.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}
