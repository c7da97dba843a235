// Command loadtest drives the match service with transcript-like traffic.
//
// In search mode every worker sends GET /api/v1/search requests. In session
// mode every worker opens a tracking session and reads a section aloud,
// posting a few words at a time to /api/v1/sessions/{id}/chunks.
//
// Queries come from -corpus when given (line prefixes, so the request looks
// like a partial transcript), otherwise from a small built-in set.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
)

const (
	modeSearch   = "search"
	modeSessions = "sessions"
)

var builtinQueries = []string{
	"ਸਤਿ ਨਾਮੁ ਕਰਤਾ ਪੁਰਖੁ",
	"ਆਦਿ ਸਚੁ ਜੁਗਾਦਿ ਸਚੁ",
	"ਸੋਚੈ ਸੋਚਿ ਨ ਹੋਵਈ",
	"ਚੁਪੈ ਚੁਪ ਨ ਹੋਵਈ",
	"ਹੁਕਮੀ ਹੋਵਨਿ ਆਕਾਰ",
	"ਹੁਕਮਿ ਰਜਾਈ ਚਲਣਾ",
	"ਗਾਵੈ ਕੋ ਤਾਣੁ ਹੋਵੈ",
	"ਸਾਚਾ ਸਾਹਿਬੁ ਸਾਚੁ ਨਾਇ",
	"ਥਾਪਿਆ ਨ ਜਾਇ ਕੀਤਾ ਨ ਹੋਇ",
	"ਵਾਹਿਗੁਰੂ",
}

type Config struct {
	BaseURL     string
	Mode        string
	Concurrency int
	Duration    time.Duration
	ChunkWords  int
	Queries     []string
	Sections    [][]string
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	outcomes      map[string]int64
	mu            sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
		outcomes:    make(map[string]int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.mu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.mu.Unlock()
}

// RecordOutcome counts a search result (found, weak, miss) or a tracker
// status.
func (s *Stats) RecordOutcome(outcome string) {
	s.mu.Lock()
	s.outcomes[outcome]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the match service")
	mode := flag.String("mode", modeSearch, "traffic shape: search or sessions")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	corpusPath := flag.String("corpus", "", "corpus file to sample queries from")
	chunkWords := flag.Int("chunk-words", 4, "words per chunk in sessions mode")
	flag.Parse()

	slog.SetDefault(logger.New(os.Stderr, "warn", "text"))

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Mode:        *mode,
		Concurrency: *concurrency,
		Duration:    *duration,
		ChunkWords:  max(*chunkWords, 1),
		Queries:     builtinQueries,
		Sections:    [][]string{builtinQueries},
	}
	if cfg.Mode != modeSearch && cfg.Mode != modeSessions {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", cfg.Mode)
		os.Exit(2)
	}
	if *corpusPath != "" {
		c, err := corpus.Load(*corpusPath, corpus.FormatAuto)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading corpus: %v\n", err)
			os.Exit(1)
		}
		cfg.Queries, cfg.Sections = sample(c)
	}

	fmt.Println("=== Bani Align Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Mode:        %s\n", cfg.Mode)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

// sample takes a prefix of every line as a query and keeps each section's
// lines for session playback.
func sample(c *corpus.Corpus) ([]string, [][]string) {
	queries := make([]string, 0, c.Len())
	for _, l := range c.Lines() {
		words := strings.Fields(l.Text)
		if len(words) > 5 {
			words = words[:5]
		}
		if len(words) > 0 {
			queries = append(queries, strings.Join(words, " "))
		}
	}
	sections := make([][]string, 0, len(c.Sections()))
	for _, s := range c.Sections() {
		lines := make([]string, 0, s.Len())
		for id := s.First; id <= s.Last; id++ {
			lines = append(lines, c.Text(id))
		}
		sections = append(sections, lines)
	}
	return queries, sections
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if cfg.Mode == modeSessions {
				runSessions(ctx, client, cfg, stats)
				return
			}
			runSearches(ctx, client, cfg, stats, workerID)
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func runSearches(ctx context.Context, client *http.Client, cfg Config, stats *Stats, workerID int) {
	queryIdx := workerID
	for ctx.Err() == nil {
		query := cfg.Queries[queryIdx%len(cfg.Queries)]
		queryIdx++

		var res struct {
			Found bool `json:"found"`
			Weak  bool `json:"weak"`
		}
		searchURL := fmt.Sprintf("%s/api/v1/search?q=%s", cfg.BaseURL, url.QueryEscape(query))
		if !do(ctx, client, stats, http.MethodGet, searchURL, nil, &res) {
			continue
		}
		switch {
		case res.Found && res.Weak:
			stats.RecordOutcome("weak")
		case res.Found:
			stats.RecordOutcome("found")
		default:
			stats.RecordOutcome("miss")
		}
	}
}

// runSessions replays random sections through fresh sessions until ctx
// ends.
func runSessions(ctx context.Context, client *http.Client, cfg Config, stats *Stats) {
	for ctx.Err() == nil {
		var created struct {
			SessionID string `json:"session_id"`
		}
		if !do(ctx, client, stats, http.MethodPost, cfg.BaseURL+"/api/v1/sessions", nil, &created) {
			continue
		}
		chunksURL := fmt.Sprintf("%s/api/v1/sessions/%s/chunks", cfg.BaseURL, created.SessionID)

		lines := cfg.Sections[rand.IntN(len(cfg.Sections))]
		var words []string
		for _, l := range lines {
			words = append(words, strings.Fields(l)...)
		}
		for i := 0; i < len(words) && ctx.Err() == nil; i += cfg.ChunkWords {
			end := min(i+cfg.ChunkWords, len(words))
			body := map[string]string{"text": strings.Join(words[i:end], " ")}
			var out struct {
				Status string `json:"status"`
			}
			if do(ctx, client, stats, http.MethodPost, chunksURL, body, &out) {
				stats.RecordOutcome(out.Status)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, cfg.BaseURL+"/api/v1/sessions/"+created.SessionID, nil)
		if err == nil {
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}
}

// do sends one request, records it and decodes a 2xx body into out. It
// reports whether out was filled.
func do(ctx context.Context, client *http.Client, stats *Stats, method, rawURL string, body, out any) bool {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(fmt.Sprintf("encoding request: %v", err))
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, &buf)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			stats.RecordRequest(duration, 0, err)
		}
		return false
	}
	defer resp.Body.Close()
	stats.RecordRequest(duration, resp.StatusCode, nil)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	return json.NewDecoder(resp.Body).Decode(out) == nil
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()

	if len(stats.outcomes) > 0 {
		fmt.Println()
		fmt.Println("=== Outcomes ===")
		names := make([]string, 0, len(stats.outcomes))
		for name := range stats.outcomes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-22s %d\n", name, stats.outcomes[name])
		}
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code].Load())
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
