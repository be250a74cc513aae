// Package apikeystore persists scoped API keys in Postgres.
package apikeystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth/apikey"
)

const schema = `CREATE TABLE IF NOT EXISTS api_keys (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	hashed_api_key TEXT NOT NULL UNIQUE,
	ims_org_id     TEXT,
	scopes         JSONB NOT NULL DEFAULT '[]',
	expires_at     TIMESTAMPTZ,
	revoked_at     TIMESTAMPTZ,
	deleted_at     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const findByHashQuery = `SELECT id, name, hashed_api_key, scopes, expires_at, revoked_at
FROM api_keys
WHERE hashed_api_key = $1 AND deleted_at IS NULL
LIMIT 1`

// Key is a stored API key.
type Key struct {
	id        string
	name      string
	hashed    string
	scopes    []auth.Scope
	expiresAt string
	revokedAt string
}

func (k *Key) ID() string           { return k.id }
func (k *Key) Name() string         { return k.name }
func (k *Key) HashedAPIKey() string { return k.hashed }
func (k *Key) Scopes() []auth.Scope { return k.scopes }
func (k *Key) ExpiresAt() string    { return k.expiresAt }
func (k *Key) RevokedAt() string    { return k.revokedAt }

type Store struct {
	db *sql.DB
}

var _ apikey.Finder = (*Store)(nil)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the api_keys table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create api_keys table: %w", describe(err))
	}
	return nil
}

func (s *Store) FindByHashedAPIKey(ctx context.Context, hashedKey string) (auth.APIKey, error) {
	var (
		key       Key
		rawScopes []byte
		expiresAt sql.NullTime
		revokedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, findByHashQuery, hashedKey).
		Scan(&key.id, &key.name, &key.hashed, &rawScopes, &expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apikey.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query api key: %w", describe(err))
	}

	key.scopes = []auth.Scope{}
	if len(rawScopes) > 0 {
		if err := json.Unmarshal(rawScopes, &key.scopes); err != nil {
			return nil, fmt.Errorf("failed to decode scopes of api key %s: %w", key.id, err)
		}
	}
	key.expiresAt = formatTime(expiresAt)
	key.revokedAt = formatTime(revokedAt)

	return &key, nil
}

func formatTime(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.UTC().Format(time.RFC3339Nano)
}

// describe adds the Postgres condition name to driver errors.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (%s): %w", pqErr.Code.Name(), pqErr.Code, err)
	}
	return err
}
