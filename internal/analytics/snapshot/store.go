// Package snapshot persists periodic copies of the analytics stats so that
// history survives aggregator restarts.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
)

var schema = map[string]string{
	database.DriverPostgres: `CREATE TABLE IF NOT EXISTS analytics_snapshots (
		id          BIGSERIAL PRIMARY KEY,
		captured_at BIGINT NOT NULL,
		data        TEXT   NOT NULL
	)`,
	database.DriverSQLite: `CREATE TABLE IF NOT EXISTS analytics_snapshots (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		captured_at BIGINT NOT NULL,
		data        TEXT   NOT NULL
	)`,
}

// Snapshot is one saved copy of the stats.
type Snapshot struct {
	ID         int64           `json:"id"`
	CapturedAt time.Time       `json:"captured_at"`
	Stats      analytics.Stats `json:"stats"`
}

type Store struct {
	db     *database.DB
	now    func() time.Time
	logger *slog.Logger
}

func NewStore(ctx context.Context, db *database.DB) (*Store, error) {
	ddl, ok := schema[db.Driver()]
	if !ok {
		return nil, fmt.Errorf("no snapshot schema for driver %q", db.Driver())
	}
	if err := db.Migrate(ctx, ddl); err != nil {
		return nil, fmt.Errorf("migrating snapshot schema: %w", err)
	}
	return &Store{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "analytics-snapshots"),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Save(ctx context.Context, stats analytics.Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO analytics_snapshots (captured_at, data) VALUES (?, ?)`),
		s.now().UTC().UnixMilli(), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Info("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"sessions", stats.Sessions,
	)
	return nil
}

// Latest returns the newest snapshot, or nil when none exist.
func (s *Store) Latest(ctx context.Context) (*Snapshot, error) {
	list, err := s.List(ctx, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// List returns up to limit snapshots, newest first. Corrupt rows are skipped.
func (s *Store) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		s.db.Rebind(`SELECT id, captured_at, data FROM analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var (
			snap Snapshot
			ms   int64
			data string
		)
		if err := rows.Scan(&snap.ID, &ms, &data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &snap.Stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "id", snap.ID, "error", err)
			continue
		}
		snap.CapturedAt = time.UnixMilli(ms).UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return out, nil
}

// ListJSON is List for the stats HTTP handler.
func (s *Store) ListJSON(ctx context.Context, limit int) (any, error) {
	return s.List(ctx, limit)
}

// Run saves agg's stats every interval and once more when ctx ends.
func (s *Store) Run(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("periodic snapshot started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			if err := s.Save(ctx, agg.Stats()); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Save(final, agg.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			cancel()
			return
		}
	}
}
