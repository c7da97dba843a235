// Package tracker follows a live transcript through the corpus. A session
// first confirms which section is being recited, then checks each new
// window of words against that section and resets after repeated drift.
package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

// Status is the per-chunk outcome of a session.
type Status string

const (
	StatusNoMatch             Status = "no_match"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
	StatusTracking            Status = "tracking"
	StatusDriftDetected       Status = "drift_detected"
)

// Verdict explains how a tracking window was judged.
type Verdict string

const (
	VerdictAgreement     Verdict = "agreement"
	VerdictLocalOverride Verdict = "local_override"
	VerdictDrift         Verdict = "drift"
	VerdictWeak          Verdict = "weak"
)

// Valid reports whether the verdict keeps the anchor.
func (v Verdict) Valid() bool {
	return v == VerdictAgreement || v == VerdictLocalOverride
}

// Searcher is the pair of collaborators the tracker consults.
// *executor.Executor and *RemoteSearcher both satisfy it.
type Searcher interface {
	SearchGlobal(ctx context.Context, query string) (*proto.Match, error)
	SearchSection(ctx context.Context, sectionID, query string) (*proto.Match, error)
}

type Params struct {
	MaxFailures     int
	WindowWords     int
	MaxBufferWords  int
	LocalThreshold  float64
	GlobalThreshold float64
}

func DefaultParams() Params {
	return Params{
		MaxFailures:     3,
		WindowWords:     8,
		MaxBufferWords:  64,
		LocalThreshold:  60,
		GlobalThreshold: 65,
	}
}

func ParamsFromConfig(cfg config.TrackerConfig) Params {
	return Params{
		MaxFailures:     cfg.MaxFailures,
		WindowWords:     cfg.WindowWords,
		MaxBufferWords:  cfg.MaxBufferWords,
		LocalThreshold:  cfg.LocalThreshold,
		GlobalThreshold: cfg.GlobalThreshold,
	}
}

// State is a session's tracking state. The zero value is Unconfirmed.
type State struct {
	Anchor    string   `json:"anchor_id,omitempty"`
	Confirmed bool     `json:"confirmed"`
	Failures  int      `json:"failures"`
	Buffer    []string `json:"buffer,omitempty"`
}

// Evidence is what a chunk's decision was based on. Confirmation fills the
// match fields; a tracking evaluation fills the window fields.
type Evidence struct {
	MatchedText   string  `json:"matched_text,omitempty"`
	Score         float64 `json:"score,omitempty"`
	LineID        int     `json:"line_id,omitempty"`
	Window        string  `json:"window,omitempty"`
	LocalScore    float64 `json:"local_score,omitempty"`
	GlobalSection string  `json:"global_section,omitempty"`
	GlobalScore   float64 `json:"global_score,omitempty"`
	Verdict       Verdict `json:"verdict,omitempty"`
	Failures      int     `json:"failures"`
}

type Outcome struct {
	Status   Status    `json:"status"`
	AnchorID string    `json:"anchor_id,omitempty"`
	Evidence *Evidence `json:"evidence,omitempty"`
}

// Step applies one chunk to state and returns the next state. It has no side
// effects beyond calling s. When s fails the input state is returned
// unchanged together with the error.
func Step(ctx context.Context, st State, chunk string, s Searcher, p Params) (State, Outcome, error) {
	words := tokenizer.Terms(tokenizer.Normalize(chunk))
	if !st.Confirmed {
		return confirm(ctx, st, words, s, p)
	}
	if len(words) == 0 {
		return st, Outcome{Status: StatusTracking, AnchorID: st.Anchor}, nil
	}

	next := st
	next.Buffer = appendWords(st.Buffer, words, p.MaxBufferWords)
	if len(next.Buffer) < p.WindowWords {
		return next, Outcome{Status: StatusTracking, AnchorID: st.Anchor}, nil
	}

	ev, err := evaluate(ctx, st.Anchor, next.Buffer[len(next.Buffer)-p.WindowWords:], s, p)
	if err != nil {
		return st, Outcome{}, err
	}
	if ev.Verdict.Valid() {
		next.Failures = 0
	} else {
		next.Failures++
	}
	ev.Failures = next.Failures
	if next.Failures >= p.MaxFailures {
		return State{}, Outcome{Status: StatusDriftDetected, Evidence: ev}, nil
	}
	return next, Outcome{Status: StatusTracking, AnchorID: st.Anchor, Evidence: ev}, nil
}

// confirm asks global search twice and accepts the section only when both
// answers agree.
func confirm(ctx context.Context, st State, words []string, s Searcher, p Params) (State, Outcome, error) {
	if len(words) == 0 {
		return st, Outcome{Status: StatusNoMatch}, nil
	}
	query := strings.Join(words, " ")
	first, err := s.SearchGlobal(ctx, query)
	if err != nil {
		return st, Outcome{}, fmt.Errorf("global search: %w", err)
	}
	if first == nil {
		return st, Outcome{Status: StatusNoMatch}, nil
	}
	second, err := s.SearchGlobal(ctx, query)
	if err != nil {
		return st, Outcome{}, fmt.Errorf("global search: %w", err)
	}
	if second == nil || second.SectionID != first.SectionID {
		return st, Outcome{Status: StatusPendingConfirmation}, nil
	}

	next := State{
		Anchor:    first.SectionID,
		Confirmed: true,
		Buffer:    appendWords(nil, words, p.MaxBufferWords),
	}
	return next, Outcome{
		Status:   StatusConfirmed,
		AnchorID: first.SectionID,
		Evidence: &Evidence{
			MatchedText: first.MatchedText,
			Score:       first.Score,
			LineID:      first.LineID,
		},
	}, nil
}

// evaluate judges one window. Agreement and local override keep the anchor;
// anything else, drift included, counts as a failure.
func evaluate(ctx context.Context, anchor string, window []string, s Searcher, p Params) (*Evidence, error) {
	query := strings.Join(window, " ")
	local, err := s.SearchSection(ctx, anchor, query)
	if err != nil {
		return nil, fmt.Errorf("local search in %s: %w", anchor, err)
	}
	global, err := s.SearchGlobal(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("global search: %w", err)
	}

	ev := &Evidence{Window: query}
	if local != nil {
		ev.LocalScore = local.Score
	}
	if global != nil {
		ev.GlobalSection = global.SectionID
		ev.GlobalScore = global.Score
	}

	switch {
	case local != nil && global != nil && global.SectionID == anchor && ev.LocalScore >= p.LocalThreshold:
		ev.Verdict = VerdictAgreement
	case ev.LocalScore >= p.LocalThreshold:
		ev.Verdict = VerdictLocalOverride
	case ev.GlobalScore >= p.GlobalThreshold && ev.GlobalSection != anchor:
		ev.Verdict = VerdictDrift
	default:
		ev.Verdict = VerdictWeak
	}
	return ev, nil
}

// appendWords returns a fresh slice holding buf+words, keeping the last max.
func appendWords(buf, words []string, max int) []string {
	out := make([]string, 0, len(buf)+len(words))
	out = append(out, buf...)
	out = append(out, words...)
	if max > 0 && len(out) > max {
		out = append([]string(nil), out[len(out)-max:]...)
	}
	return out
}
