package ipam

import (
	"context"
	"database/sql"
	"fmt"
	"net"

	"github.com/plfm/plfm/pkg/types"
)

// ValidIPv4 reports whether s is a plain IPv4 address
func ValidIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// IPv4Pool hands out dedicated public IPv4 addresses from a finite,
// operator-seeded pool. Claims run inside the command transaction so a
// quota rollback releases the address with it.
type IPv4Pool struct {
	db *sql.DB
}

// NewIPv4Pool wraps the pool table
func NewIPv4Pool(db *sql.DB) *IPv4Pool { return &IPv4Pool{db: db} }

// Add seeds addresses into the pool. Addresses already present are
// left untouched.
func (p *IPv4Pool) Add(ctx context.Context, addrs []string) error {
	for _, a := range addrs {
		if !ValidIPv4(a) {
			return fmt.Errorf("not an ipv4 address: %s", a)
		}
		if _, err := p.db.ExecContext(ctx, `
			INSERT INTO ipv4_pool (address) VALUES ($1)
			ON CONFLICT (address) DO NOTHING`, a); err != nil {
			return fmt.Errorf("seed ipv4 %s: %w", a, err)
		}
	}
	return nil
}

// ClaimTx claims one free address for an env. SKIP LOCKED keeps
// concurrent claims off each other's rows.
func (p *IPv4Pool) ClaimTx(ctx context.Context, tx *sql.Tx, envID string) (string, error) {
	var addr string
	err := tx.QueryRowContext(ctx, `
		UPDATE ipv4_pool SET claimed_by_env = $1, claimed_at = now()
		WHERE address = (
			SELECT address FROM ipv4_pool
			WHERE claimed_by_env IS NULL
			ORDER BY address
			FOR UPDATE SKIP LOCKED
			LIMIT 1)
		RETURNING address`, envID).Scan(&addr)
	if err == sql.ErrNoRows {
		return "", types.ErrIPv4PoolExhausted
	}
	if err != nil {
		return "", fmt.Errorf("claim ipv4: %w", err)
	}
	return addr, nil
}

// ReleaseTx returns an env's address to the pool. Returns the released
// address, or "" when the env held none.
func (p *IPv4Pool) ReleaseTx(ctx context.Context, tx *sql.Tx, envID string) (string, error) {
	var addr string
	err := tx.QueryRowContext(ctx, `
		UPDATE ipv4_pool SET claimed_by_env = NULL, claimed_at = NULL
		WHERE claimed_by_env = $1
		RETURNING address`, envID).Scan(&addr)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("release ipv4: %w", err)
	}
	return addr, nil
}
