package quota

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/plfm/plfm/pkg/types"
)

// Quota dimensions tracked per org
const (
	DimApps            = "apps"
	DimEnvs            = "envs"
	DimInstances       = "instances"
	DimRoutes          = "routes"
	DimVolumeBytes     = "volume_bytes"
	DimIPv4Allocations = "max_ipv4_allocations"
)

// Checker enforces per-org limits against the usage counters
type Checker struct {
	db *sql.DB
}

// NewChecker creates a checker over the control plane database
func NewChecker(db *sql.DB) *Checker {
	return &Checker{db: db}
}

// ReserveTx atomically checks the limit and bumps usage inside the
// caller's transaction. No configured limit means unlimited. A failed
// check returns a QuotaError carrying the dimension and numbers.
func (c *Checker) ReserveTx(ctx context.Context, tx *sql.Tx, orgID, dimension string, delta int64) error {
	if delta <= 0 {
		return c.releaseTx(ctx, tx, orgID, dimension, -delta)
	}

	var limit sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT max_limit FROM org_quotas WHERE org_id = $1 AND dimension = $2`,
		orgID, dimension).Scan(&limit)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read quota limit: %w", err)
	}

	var usage int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO quota_usage (org_id, dimension, usage)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, dimension) DO UPDATE SET usage = quota_usage.usage + $3
		RETURNING usage`,
		orgID, dimension, delta).Scan(&usage)
	if err != nil {
		return fmt.Errorf("bump quota usage: %w", err)
	}

	if limit.Valid && usage > limit.Int64 {
		return &types.QuotaError{
			Dimension:      dimension,
			Limit:          limit.Int64,
			CurrentUsage:   usage - delta,
			RequestedDelta: delta,
		}
	}
	return nil
}

func (c *Checker) releaseTx(ctx context.Context, tx *sql.Tx, orgID, dimension string, amount int64) error {
	if amount == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE quota_usage SET usage = GREATEST(usage - $3, 0)
		WHERE org_id = $1 AND dimension = $2`,
		orgID, dimension, amount)
	if err != nil {
		return fmt.Errorf("release quota usage: %w", err)
	}
	return nil
}

// SetLimit writes or replaces one org limit
func (c *Checker) SetLimit(ctx context.Context, orgID, dimension string, limit int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO org_quotas (org_id, dimension, max_limit)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, dimension) DO UPDATE SET max_limit = EXCLUDED.max_limit`,
		orgID, dimension, limit)
	if err != nil {
		return fmt.Errorf("set quota limit: %w", err)
	}
	return nil
}
