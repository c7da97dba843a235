package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
)

func TestSaveAndList(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s, err := NewStore(ctx, db)
	if err != nil {
		t.Fatal(err)
	}

	if latest, err := s.Latest(ctx); err != nil || latest != nil {
		t.Fatalf("empty store: %+v %v", latest, err)
	}

	base := time.Unix(1_700_000_000, 0)
	for i := int64(1); i <= 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		if err := s.Save(ctx, analytics.Stats{TotalSearches: i * 10}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO analytics_snapshots (captured_at, data) VALUES (?, ?)`,
		base.Add(time.Hour).UnixMilli(), "{broken"); err != nil {
		t.Fatal(err)
	}

	list, err := s.List(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Stats.TotalSearches != 30 || list[1].Stats.TotalSearches != 20 {
		t.Fatalf("List = %+v", list)
	}
	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Errorf("latest should be the corrupt row, skipped: %+v", latest)
	}
	if !list[0].CapturedAt.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("CapturedAt = %v", list[0].CapturedAt)
	}
}
