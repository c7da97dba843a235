// Package history persists weighted comparisons that scored well enough to
// be worth keeping, and exports them for offline weight tuning.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
)

const (
	DefaultLimit = 20
	MaxLimit     = 500
)

var schema = map[string]string{
	database.DriverSQLite: `CREATE TABLE IF NOT EXISTS comparisons (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at   BIGINT  NOT NULL,
		session_id   TEXT    NOT NULL DEFAULT '',
		query        TEXT    NOT NULL,
		normalized   TEXT    NOT NULL,
		weights      TEXT    NOT NULL,
		best_score   REAL    NOT NULL,
		best_line_id INTEGER NOT NULL,
		best_text    TEXT    NOT NULL,
		best_section TEXT    NOT NULL DEFAULT '',
		results      TEXT    NOT NULL,
		log_mode     TEXT    NOT NULL DEFAULT ''
	)`,
	database.DriverPostgres: `CREATE TABLE IF NOT EXISTS comparisons (
		id           BIGSERIAL PRIMARY KEY,
		created_at   BIGINT           NOT NULL,
		session_id   TEXT             NOT NULL DEFAULT '',
		query        TEXT             NOT NULL,
		normalized   TEXT             NOT NULL,
		weights      TEXT             NOT NULL,
		best_score   DOUBLE PRECISION NOT NULL,
		best_line_id INTEGER          NOT NULL,
		best_text    TEXT             NOT NULL,
		best_section TEXT             NOT NULL DEFAULT '',
		results      TEXT             NOT NULL,
		log_mode     TEXT             NOT NULL DEFAULT ''
	)`,
}

const createdIndex = `CREATE INDEX IF NOT EXISTS comparisons_created_at ON comparisons (created_at)`

// Record is one saved comparison.
type Record struct {
	ID          int64             `json:"id"`
	CreatedAt   time.Time         `json:"timestamp"`
	SessionID   string            `json:"session_id,omitempty"`
	Query       string            `json:"query"`
	Normalized  string            `json:"normalized"`
	Weights     ranker.Weights    `json:"weights_used"`
	BestScore   float64           `json:"best_score"`
	BestLineID  int               `json:"best_line_number"`
	BestText    string            `json:"best_match"`
	BestSection string            `json:"best_section,omitempty"`
	Results     []executor.Ranked `json:"results"`
	LogMode     string            `json:"log_mode,omitempty"`
}

// Observer is told about every saved comparison.
type Observer interface {
	ComparisonSaved()
}

type Option func(*Store)

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

type Store struct {
	db       *database.DB
	minScore float64
	observer Observer
	now      func() time.Time
	logger   *slog.Logger
}

// New migrates the schema and returns a Store that keeps comparisons whose
// best score is at least minScore.
func New(ctx context.Context, db *database.DB, minScore float64, opts ...Option) (*Store, error) {
	ddl, ok := schema[db.Driver()]
	if !ok {
		return nil, fmt.Errorf("no history schema for driver %q", db.Driver())
	}
	if err := db.Migrate(ctx, ddl, createdIndex); err != nil {
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}
	s := &Store{
		db:       db,
		minScore: minScore,
		now:      time.Now,
		logger:   slog.Default().With("component", "history-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) MinScore() float64 { return s.minScore }

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Save stores r when its best score reaches the minimum. It reports the new
// row id and whether anything was written.
func (s *Store) Save(ctx context.Context, r *executor.Ranking, sessionID, logMode string) (int64, bool, error) {
	best := r.Best()
	if best == nil || best.Score < s.minScore {
		return 0, false, nil
	}
	weights, err := json.Marshal(r.Weights)
	if err != nil {
		return 0, false, fmt.Errorf("encoding weights: %w", err)
	}
	results, err := json.Marshal(r.Results)
	if err != nil {
		return 0, false, fmt.Errorf("encoding results: %w", err)
	}

	q := s.db.Rebind(`INSERT INTO comparisons
		(created_at, session_id, query, normalized, weights, best_score, best_line_id, best_text, best_section, results, log_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	var id int64
	err = s.db.QueryRowContext(ctx, q,
		s.now().UTC().UnixMilli(), sessionID, r.Query, r.Normalized, string(weights),
		best.Score, best.LineID, best.Text, best.SectionID, string(results), logMode,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("inserting comparison: %w", err)
	}
	if s.observer != nil {
		s.observer.ComparisonSaved()
	}
	s.logger.Info("comparison saved", "id", id, "best_score", best.Score, "line_id", best.LineID)
	return id, true, nil
}

// List returns up to limit records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return s.query(ctx, `SELECT `+columns+` FROM comparisons ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comparisons`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting comparisons: %w", err)
	}
	return n, nil
}

// Export writes every record, oldest first, as one JSON document.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	records, err := s.query(ctx, `SELECT `+columns+` FROM comparisons ORDER BY created_at, id`)
	if err != nil {
		return 0, err
	}
	doc := struct {
		ExportedAt  time.Time `json:"exported_at"`
		MinScore    float64   `json:"min_save_score"`
		Count       int       `json:"total_comparisons"`
		Comparisons []Record  `json:"comparisons"`
	}{
		ExportedAt:  s.now().UTC(),
		MinScore:    s.minScore,
		Count:       len(records),
		Comparisons: records,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("writing export: %w", err)
	}
	return len(records), nil
}

const columns = `id, created_at, session_id, query, normalized, weights, best_score, best_line_id, best_text, best_section, results, log_mode`

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("querying comparisons: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating comparisons: %w", err)
	}
	return out, nil
}

func scan(rows *sql.Rows) (Record, error) {
	var (
		r                Record
		createdMs        int64
		weights, results string
	)
	err := rows.Scan(&r.ID, &createdMs, &r.SessionID, &r.Query, &r.Normalized, &weights,
		&r.BestScore, &r.BestLineID, &r.BestText, &r.BestSection, &results, &r.LogMode)
	if err != nil {
		return Record{}, fmt.Errorf("scanning comparison: %w", err)
	}
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	if err := json.Unmarshal([]byte(weights), &r.Weights); err != nil {
		return Record{}, fmt.Errorf("decoding weights of comparison %d: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
		return Record{}, fmt.Errorf("decoding results of comparison %d: %w", r.ID, err)
	}
	return r, nil
}
