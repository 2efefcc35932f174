package idempotency

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/plfm/plfm/pkg/types"
)

// Key scopes one stored decision. Two actors or two endpoints never
// collide even with the same client-chosen key.
type Key struct {
	OrgScope string
	ActorID  string
	Endpoint string
	Value    string
}

// Record is the stored outcome of a completed mutation
type Record struct {
	RequestHash string
	StatusCode  int
	Body        []byte
}

// RequestHash hashes the canonical form of a request body. JSON bodies
// are re-marshalled through a map so key order does not change the hash.
func RequestHash(body []byte) string {
	canonical := body
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err == nil {
		if b, err := json.Marshal(m); err == nil {
			canonical = b
		}
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Store persists idempotency records in Postgres
type Store struct {
	db *sql.DB
}

// NewStore creates a store over the shared control plane database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Lookup returns the stored record for a key, or nil when the key has
// not been seen. A stored record with a different request hash means
// the client reused a key for a different request.
func (s *Store) Lookup(ctx context.Context, key Key, requestHash string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, `
		SELECT request_hash, status_code, body FROM idempotency_records
		WHERE org_scope = $1 AND actor_id = $2 AND endpoint = $3 AND idempotency_key = $4`,
		key.OrgScope, key.ActorID, key.Endpoint, key.Value).
		Scan(&rec.RequestHash, &rec.StatusCode, &rec.Body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency record: %w", err)
	}
	if rec.RequestHash != requestHash {
		return nil, fmt.Errorf("key %q reused with different body: %w", key.Value, types.ErrIdempotencyKeyConflict)
	}
	return &rec, nil
}

// SaveTx records the outcome inside the caller's transaction, so the
// record and the events it covers commit atomically.
func (s *Store) SaveTx(ctx context.Context, tx *sql.Tx, key Key, requestHash string, statusCode int, body []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_records (org_scope, actor_id, endpoint, idempotency_key,
			request_hash, status_code, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (org_scope, actor_id, endpoint, idempotency_key) DO NOTHING`,
		key.OrgScope, key.ActorID, key.Endpoint, key.Value, requestHash, statusCode, body)
	if err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}
