package tracker

import (
	"context"
)

// Tracker holds one session's state. It is not safe for concurrent use;
// Manager serializes access per session.
type Tracker struct {
	searcher Searcher
	params   Params
	state    State
}

func New(s Searcher, p Params) *Tracker {
	return &Tracker{searcher: s, params: p}
}

// ProcessChunk advances the session by one transcript chunk. On error the
// state is left as it was.
func (t *Tracker) ProcessChunk(ctx context.Context, chunk string) (Outcome, error) {
	next, out, err := Step(ctx, t.state, chunk, t.searcher, t.params)
	if err != nil {
		return Outcome{}, err
	}
	t.state = next
	return out, nil
}

// Reset returns the session to Unconfirmed.
func (t *Tracker) Reset() { t.state = State{} }

// State returns a copy of the current state.
func (t *Tracker) State() State {
	st := t.state
	st.Buffer = append([]string(nil), t.state.Buffer...)
	return st
}
