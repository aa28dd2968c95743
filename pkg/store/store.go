// Package store implements the index store: a Postgres-backed,
// append-only secondary sink mirroring coordinator state for read
// convenience. It is never the source of truth for hot-window reads;
// coordinators serve those from their own in-memory state and only
// best-effort-mirror writes here.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// schema is applied idempotently at startup, following the teacher's
// inline-DDL-string convention rather than a migration framework.
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agreements (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	created_by TEXT NOT NULL,
	metadata   JSONB
);

CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT NOT NULL,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	mode       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS documents (
	id         TEXT NOT NULL,
	tenant_id  TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT NOT NULL,
	tenant_id  TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	room_seq   BIGINT NOT NULL,
	sender_id  TEXT NOT NULL,
	sent_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, room_id, room_seq)
);

CREATE TABLE IF NOT EXISTS spans (
	id         TEXT NOT NULL,
	tenant_id  TEXT NOT NULL,
	user_id    TEXT,
	kind       TEXT NOT NULL,
	hash       TEXT NOT NULL,
	size       INT NOT NULL,
	metadata   JSONB NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         BIGSERIAL PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	event      TEXT NOT NULL,
	detail     JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_cache (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Store wraps the Postgres connection pool backing the index store.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB (callers use lib/pq's driver:
// sql.Open("postgres", dsn)).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init applies the index store schema. Safe to call on every startup.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// UpsertTenant idempotently mirrors a tenant record.
func (s *Store) UpsertTenant(ctx context.Context, id, typ string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, type, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`, id, typ, createdAt)
	if err != nil {
		return fmt.Errorf("store: upsert tenant: %w", err)
	}
	return nil
}

// UpsertAgreement inserts an agreement, updating metadata on conflict
// (agreements are immutable in practice, but the upsert makes mirror
// writes idempotent under retry without needing a read-before-write).
func (s *Store) UpsertAgreement(ctx context.Context, id, tenantID, typ, createdBy string, createdAt time.Time, metadata map[string]interface{}) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("store: marshal agreement metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agreements (id, tenant_id, type, created_at, created_by, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET metadata = EXCLUDED.metadata`,
		id, tenantID, typ, createdAt, createdBy, meta)
	if err != nil {
		return fmt.Errorf("store: upsert agreement: %w", err)
	}
	return nil
}

// AgreementExists reports whether an agreement with id has been
// recorded, used to check invariant 4 (every referenced agreement_id
// resolves to a real agreement).
func (s *Store) AgreementExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM agreements WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: agreement exists: %w", err)
	}
	return exists, nil
}

// UpsertRoom mirrors a room summary.
func (s *Store) UpsertRoom(ctx context.Context, tenantID, roomID, name, mode string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, tenant_id, name, mode, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, id) DO NOTHING`,
		roomID, tenantID, name, mode, createdAt)
	if err != nil {
		return fmt.Errorf("store: upsert room: %w", err)
	}
	return nil
}

// InsertSpan mirrors one ledger atom into the spans table. Duplicate
// inserts (e.g. a retried append after a transient connection error)
// are silently absorbed.
func (s *Store) InsertSpan(ctx context.Context, id, tenantID, userID, kind, hash string, size int, metadata map[string]interface{}) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("store: marshal span metadata: %w", err)
	}
	var userIDArg interface{}
	if userID != "" {
		userIDArg = userID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO spans (id, tenant_id, user_id, kind, hash, size, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, id) DO NOTHING`,
		id, tenantID, userIDArg, kind, hash, size, meta)
	if err != nil {
		return fmt.Errorf("store: insert span: %w", err)
	}
	return nil
}

// InsertDocument mirrors a workspace document.
func (s *Store) InsertDocument(ctx context.Context, id, tenantID, workspaceID, title, content, contentHash string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, workspace_id, title, content, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, id) DO NOTHING`,
		id, tenantID, workspaceID, title, content, contentHash, createdAt)
	if err != nil {
		return fmt.Errorf("store: insert document: %w", err)
	}
	return nil
}

// InsertSession mirrors a JSON-RPC session id minted at initialize.
func (s *Store) InsertSession(ctx context.Context, id, tenantID, userID string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		id, tenantID, userID, createdAt)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}
