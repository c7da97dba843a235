package apikey

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "keys.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	v, err := NewValidator(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestCreateAndValidate(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	raw, info, err := v.CreateKey(ctx, "kirtan-app", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 64 {
		t.Errorf("raw key length = %d, want 64", len(raw))
	}
	if info.RateLimit != DefaultRateLimit {
		t.Errorf("RateLimit = %d, want default %d", info.RateLimit, DefaultRateLimit)
	}

	got, err := v.Validate(ctx, raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != info.ID || got.Name != "kirtan-app" || !got.IsActive {
		t.Errorf("validated = %+v", got)
	}

	if _, err := v.Validate(ctx, "not-a-key"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("unknown key: err = %v, want ErrInvalidKey", err)
	}
}

func TestExpiredKey(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	raw, _, err := v.CreateKey(ctx, "old", 10, &past)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Validate(ctx, raw); !errors.Is(err, ErrExpiredKey) {
		t.Errorf("err = %v, want ErrExpiredKey", err)
	}
}

func TestRevokeTakesEffectImmediately(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	raw, info, err := v.CreateKey(ctx, "temp", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Populate the validation cache first.
	if _, err := v.Validate(ctx, raw); err != nil {
		t.Fatal(err)
	}
	if err := v.RevokeKey(ctx, info.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Validate(ctx, raw); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("after revoke: err = %v, want ErrInvalidKey", err)
	}
	if err := v.RevokeKey(ctx, info.ID); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("second revoke: err = %v, want ErrInvalidKey", err)
	}
}

func TestListKeys(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	keys, err := v.ListKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("empty store listed %d keys", len(keys))
	}

	_, a, _ := v.CreateKey(ctx, "a", 5, nil)
	_, b, _ := v.CreateKey(ctx, "b", 5, nil)
	if err := v.RevokeKey(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	keys, err = v.ListKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0].ID != b.ID {
		t.Errorf("keys = %+v, want only %s", keys, b.ID)
	}
}

func TestHashKey(t *testing.T) {
	if HashKey("a") == HashKey("b") {
		t.Error("distinct keys hashed alike")
	}
	if got := HashKey("abc"); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("HashKey(abc) = %s", got)
	}
}
