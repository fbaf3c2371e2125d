package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jainkunal/giza-agents/internal/auth"
)

// SQLKeyStore persists API keys in MySQL. Keys are stored as SHA-256
// digests, never in clear text.
type SQLKeyStore struct {
	db *sql.DB
}

// NewSQLKeyStore creates the store using the provided connection settings.
func NewSQLKeyStore(ctx context.Context, cfg Config) (*SQLKeyStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLKeyStore{db: db}, nil
}

// Close releases the underlying database connection pool.
func (s *SQLKeyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FindKey implements auth.Store.
func (s *SQLKeyStore) FindKey(ctx context.Context, key string) (*auth.Principal, error) {
	const query = `SELECT name, scopes, disabled FROM api_keys WHERE key_hash = ?`
	row := s.db.QueryRowContext(ctx, query, auth.HashKey(strings.TrimSpace(key)))

	var principal auth.Principal
	var scopes string
	var disabled int
	if err := row.Scan(&principal.Name, &scopes, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrInvalidKey
		}
		return nil, fmt.Errorf("查询 API 密钥失败: %w", err)
	}
	principal.Scopes = splitScopes(scopes)
	principal.Disabled = disabled == 1
	return &principal, nil
}

// ApplySeed implements auth.SeedWriter by upserting the seed key.
func (s *SQLKeyStore) ApplySeed(ctx context.Context, seed auth.Seed) error {
	key := strings.TrimSpace(seed.Key)
	if key == "" {
		return nil
	}
	const stmt = `INSERT INTO api_keys (key_hash, name, scopes, disabled, created_at)
    VALUES (?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE name = VALUES(name), scopes = VALUES(scopes), disabled = VALUES(disabled)`
	if _, err := s.db.ExecContext(ctx, stmt,
		auth.HashKey(key),
		seed.Name,
		strings.Join(seed.Scopes, ","),
		boolToInt(seed.Disabled),
		time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("写入 API 密钥失败: %w", err)
	}
	return nil
}

func splitScopes(raw string) []string {
	var scopes []string
	for _, scope := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(scope)
		if trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	return scopes
}
