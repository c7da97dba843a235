package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
)

// Observer receives per-chunk statuses and the live session count.
// *metrics.Metrics satisfies it.
type Observer interface {
	ObserveChunk(status string)
	SetActiveSessions(n int)
}

// Publisher ships tracker events downstream. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID         string    `json:"session_id"`
	State      State     `json:"state"`
	Chunks     int       `json:"chunks"`
	LastStatus Status    `json:"last_status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
}

type session struct {
	mu         sync.Mutex
	id         string
	tracker    *Tracker
	chunks     int
	lastStatus Status
	createdAt  time.Time
	lastSeen   time.Time
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:         s.id,
		State:      s.tracker.State(),
		Chunks:     s.chunks,
		LastStatus: s.lastStatus,
		CreatedAt:  s.createdAt,
		LastSeen:   s.lastSeen,
	}
}

type ManagerOption func(*Manager)

func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

func WithPublisher(p Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// Manager owns many sessions. Chunks for one session are applied one at a
// time; different sessions proceed in parallel.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	searcher  Searcher
	params    Params
	idleTTL   time.Duration
	observer  Observer
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager creates a Manager. Sessions idle for longer than idleTTL are
// evicted by Run; idleTTL <= 0 disables eviction.
func NewManager(s Searcher, p Params, idleTTL time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*session),
		searcher: s,
		params:   p,
		idleTTL:  idleTTL,
		now:      time.Now,
		logger:   slog.Default().With("component", "session-manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new Unconfirmed session and returns its id.
func (m *Manager) Create() string {
	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = m.newSession(id)
	n := len(m.sessions)
	m.mu.Unlock()
	m.setActive(n)
	m.logger.Info("session created", "session_id", id)
	return id
}

// Ensure returns the session with id, creating it when absent. Stream
// consumers use it because session ids originate upstream.
func (m *Manager) Ensure(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty session id", apperrors.ErrInvalidInput)
	}
	m.mu.Lock()
	_, ok := m.sessions[id]
	if !ok {
		m.sessions[id] = m.newSession(id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		m.setActive(n)
		m.logger.Info("session created", "session_id", id)
	}
	return nil
}

func (m *Manager) newSession(id string) *session {
	now := m.now()
	return &session{
		id:        id,
		tracker:   New(m.searcher, m.params),
		createdAt: now,
		lastSeen:  now,
	}
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSessionNotFound, id)
	}
	return s, nil
}

// ProcessChunk applies chunk to session id.
func (m *Manager) ProcessChunk(ctx context.Context, id, chunk string) (Outcome, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Outcome{}, err
	}

	s.mu.Lock()
	out, err := s.tracker.ProcessChunk(ctx, chunk)
	s.lastSeen = m.now()
	if err == nil {
		s.chunks++
		s.lastStatus = out.Status
	}
	s.mu.Unlock()

	log := logger.FromContext(logger.WithSession(ctx, id))
	if err != nil {
		log.Warn("chunk processing failed", "error", err)
		return Outcome{}, fmt.Errorf("processing chunk: %w", err)
	}
	if out.Status == StatusDriftDetected {
		log.Info("drift detected, session reset")
	} else {
		log.Debug("chunk processed", "status", out.Status, "anchor_id", out.AnchorID)
	}

	if m.observer != nil {
		m.observer.ObserveChunk(string(out.Status))
	}
	m.publish(ctx, id, out)
	return out, nil
}

func (m *Manager) publish(ctx context.Context, id string, out Outcome) {
	if m.publisher == nil {
		return
	}
	ev := &proto.TrackerEvent{
		SessionID: id,
		Status:    string(out.Status),
		AnchorID:  out.AnchorID,
	}
	if out.Evidence != nil {
		ev.Failures = out.Evidence.Failures
		ev.Score = out.Evidence.Score
		if out.Evidence.Window != "" {
			ev.Score = out.Evidence.LocalScore
		}
	}
	event := kafka.Event{
		Key: id,
		Value: proto.AnalyticsEvent{
			Type:      proto.EventTracker,
			Timestamp: m.now().UTC(),
			Tracker:   ev,
		},
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("failed to publish tracker event", "session_id", id, "error", err)
	}
}

// ResetSession returns session id to Unconfirmed without removing it.
func (m *Manager) ResetSession(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tracker.Reset()
	s.lastStatus = ""
	s.lastSeen = m.now()
	s.mu.Unlock()
	m.logger.Info("session reset", "session_id", id)
	return nil
}

// Delete removes session id and reports whether it existed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		m.setActive(n)
	}
	return ok
}

func (m *Manager) Get(id string) (SessionInfo, error) {
	s, err := m.lookup(id)
	if err != nil {
		return SessionInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info(), nil
}

// List returns every session ordered by creation time.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		out = append(out, s.info())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle removes sessions not seen for idleTTL. Sessions busy with a
// chunk are skipped.
func (m *Manager) EvictIdle() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	evicted := 0
	for id, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		idle := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			evicted++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if evicted > 0 {
		m.setActive(n)
		m.logger.Info("idle sessions evicted", "count", evicted, "remaining", n)
	}
	return evicted
}

// Run evicts idle sessions periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTTL <= 0 {
		<-ctx.Done()
		return
	}
	interval := m.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

func (m *Manager) setActive(n int) {
	if m.observer != nil {
		m.observer.SetActiveSessions(n)
	}
}
