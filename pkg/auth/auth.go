package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/plfm/plfm/pkg/types"
)

// Roles an access token can carry
const (
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
	RoleViewer    = "viewer"
	RoleNode      = "node"
)

// Principal is the authenticated identity attached to a request
type Principal struct {
	ActorType types.ActorType
	ActorID   string
	OrgID     string
	Role      string
}

// CanWrite reports whether the principal may run mutations
func (p *Principal) CanWrite() bool {
	return p.Role == RoleAdmin || p.Role == RoleDeveloper
}

type cacheEntry struct {
	principal Principal
	expiresAt time.Time
}

// Authenticator validates bearer tokens against the access_tokens table
// with a small TTL cache in front. Revocation takes effect within one
// cache TTL.
type Authenticator struct {
	db         *sql.DB
	ttl        time.Duration
	maxEntries int

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewAuthenticator creates an authenticator with the given cache bounds
func NewAuthenticator(db *sql.DB, ttl time.Duration, maxEntries int) *Authenticator {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Authenticator{
		db:         db,
		ttl:        ttl,
		maxEntries: maxEntries,
		cache:      make(map[string]cacheEntry),
	}
}

// HashToken is the stored form of a token. Raw tokens never touch disk.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Authenticate resolves a bearer token to a principal
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, types.ErrUnauthorized
	}
	hash := HashToken(token)

	a.mu.Lock()
	if entry, ok := a.cache[hash]; ok && time.Now().Before(entry.expiresAt) {
		p := entry.principal
		a.mu.Unlock()
		return &p, nil
	}
	a.mu.Unlock()

	var p Principal
	var expiresAt time.Time
	var revokedAt sql.NullTime
	err := a.db.QueryRowContext(ctx, `
		SELECT actor_type, actor_id, org_id, role, expires_at, revoked_at
		FROM access_tokens WHERE token_hash = $1`, hash).
		Scan(&p.ActorType, &p.ActorID, &p.OrgID, &p.Role, &expiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("token lookup: %w", err)
	}
	if revokedAt.Valid {
		return nil, types.ErrTokenRevoked
	}
	if time.Now().After(expiresAt) {
		return nil, types.ErrUnauthorized
	}

	a.mu.Lock()
	if len(a.cache) >= a.maxEntries {
		// full cache: drop one arbitrary entry rather than grow unbounded
		for k := range a.cache {
			delete(a.cache, k)
			break
		}
	}
	a.cache[hash] = cacheEntry{principal: p, expiresAt: time.Now().Add(a.ttl)}
	a.mu.Unlock()

	return &p, nil
}

// IssueToken mints a token for an actor and stores only its hash
func (a *Authenticator) IssueToken(ctx context.Context, actorType types.ActorType, actorID, orgID, role string, ttl time.Duration) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := "plfm_" + base64.RawURLEncoding.EncodeToString(raw)

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO access_tokens (token_hash, actor_type, actor_id, org_id, role, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		HashToken(token), actorType, actorID, orgID, role, time.Now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Revoke marks a token revoked and drops it from the cache
func (a *Authenticator) Revoke(ctx context.Context, token string) error {
	hash := HashToken(token)
	_, err := a.db.ExecContext(ctx,
		`UPDATE access_tokens SET revoked_at = now() WHERE token_hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	a.mu.Lock()
	delete(a.cache, hash)
	a.mu.Unlock()
	return nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
