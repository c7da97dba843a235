// Package apikey issues and validates gateway API keys. Raw keys are random
// 32-byte hex strings; only their SHA-256 digest is stored. Validated keys
// are remembered briefly so the gateway does not query the database on
// every request.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

const (
	DefaultRateLimit = 100

	validatedCacheSize = 1024
	validatedCacheTTL  = 30 * time.Second
)

// Timestamps are unix milliseconds so one schema serves both drivers.
const schema = `CREATE TABLE IF NOT EXISTS api_keys (
	id         TEXT    PRIMARY KEY,
	key_hash   TEXT    NOT NULL UNIQUE,
	name       TEXT    NOT NULL,
	rate_limit INTEGER NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 1,
	created_at BIGINT  NOT NULL,
	expires_at BIGINT
)`

// KeyInfo describes a key without its secret.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	RateLimit int        `json:"rate_limit"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (k *KeyInfo) expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

type Validator struct {
	db     *database.DB
	cache  *expirable.LRU[string, KeyInfo]
	now    func() time.Time
	logger *slog.Logger
}

// NewValidator migrates the api_keys table and returns a Validator over it.
func NewValidator(ctx context.Context, db *database.DB) (*Validator, error) {
	if err := db.Migrate(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrating api key schema: %w", err)
	}
	return &Validator{
		db:     db,
		cache:  expirable.NewLRU[string, KeyInfo](validatedCacheSize, nil, validatedCacheTTL),
		now:    time.Now,
		logger: slog.Default().With("component", "apikey-validator"),
	}, nil
}

func (v *Validator) Ping(ctx context.Context) error { return v.db.Ping(ctx) }

// Validate checks a raw key. It returns ErrInvalidKey for unknown or
// revoked keys and ErrExpiredKey for expired ones.
func (v *Validator) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	hash := HashKey(rawKey)
	if info, ok := v.cache.Get(hash); ok {
		if info.expired(v.now()) {
			v.cache.Remove(hash)
			return nil, ErrExpiredKey
		}
		return &info, nil
	}

	row := v.db.QueryRowContext(ctx, v.db.Rebind(
		`SELECT `+columns+` FROM api_keys WHERE key_hash = ? AND is_active = 1`), hash)
	info, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if info.expired(v.now()) {
		return nil, ErrExpiredKey
	}
	v.cache.Add(hash, info)
	return &info, nil
}

// CreateKey stores a new key and returns the raw key, which cannot be
// recovered later.
func (v *Validator) CreateKey(ctx context.Context, name string, rateLimit int, expiresAt *time.Time) (string, *KeyInfo, error) {
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimit
	}
	rawKey, err := generateRawKey()
	if err != nil {
		return "", nil, err
	}
	info := &KeyInfo{
		ID:        uuid.NewString(),
		Name:      name,
		RateLimit: rateLimit,
		IsActive:  true,
		CreatedAt: v.now().UTC().Truncate(time.Millisecond),
		ExpiresAt: expiresAt,
	}
	var expiry sql.NullInt64
	if expiresAt != nil {
		expiry = sql.NullInt64{Int64: expiresAt.UnixMilli(), Valid: true}
	}

	_, err = v.db.ExecContext(ctx, v.db.Rebind(
		`INSERT INTO api_keys (id, key_hash, name, rate_limit, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`),
		info.ID, HashKey(rawKey), name, rateLimit, info.CreatedAt.UnixMilli(), expiry,
	)
	if err != nil {
		return "", nil, fmt.Errorf("creating api key: %w", err)
	}
	v.logger.Info("api key created", "id", info.ID, "name", name, "rate_limit", rateLimit)
	return rawKey, info, nil
}

// RevokeKey deactivates the key with the given id.
func (v *Validator) RevokeKey(ctx context.Context, id string) error {
	result, err := v.db.ExecContext(ctx, v.db.Rebind(
		`UPDATE api_keys SET is_active = 0 WHERE id = ? AND is_active = 1`), id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrInvalidKey
	}
	// Revocation must take effect immediately.
	v.cache.Purge()
	v.logger.Info("api key revoked", "id", id)
	return nil
}

// ListKeys returns active keys, newest first.
func (v *Validator) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := v.db.QueryContext(ctx,
		`SELECT `+columns+` FROM api_keys WHERE is_active = 1 ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]KeyInfo, 0)
	for rows.Next() {
		k, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

const columns = `id, name, rate_limit, is_active, created_at, expires_at`

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (KeyInfo, error) {
	var (
		k         KeyInfo
		active    int
		createdAt int64
		expiresAt sql.NullInt64
	)
	if err := s.Scan(&k.ID, &k.Name, &k.RateLimit, &active, &createdAt, &expiresAt); err != nil {
		return KeyInfo{}, err
	}
	k.IsActive = active != 0
	k.CreatedAt = time.UnixMilli(createdAt).UTC()
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64).UTC()
		k.ExpiresAt = &t
	}
	return k, nil
}

// HashKey returns the SHA-256 hex digest of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
