package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/plfm/plfm/pkg/types"
)

// pq unique_violation; the seq constraint is the only lock writers observe
const pqUniqueViolation = "23505"

const eventColumns = `event_id, aggregate_type, aggregate_id, aggregate_seq,
	event_type, event_version, actor_type, actor_id,
	coalesce(org_id, ''), coalesce(app_id, ''), coalesce(env_id, ''),
	request_id, coalesce(idempotency_key, ''),
	coalesce(correlation_id, ''), coalesce(causation_id, ''),
	occurred_at, payload`

// Store is the append-only event log backed by Postgres
type Store struct {
	db       *sql.DB
	registry *Registry
}

// NewStore creates a Store over an open database handle
func NewStore(db *sql.DB, registry *Registry) *Store {
	return &Store{db: db, registry: registry}
}

// DB exposes the underlying handle for callers that need to open a
// transaction spanning the log and sibling tables (idempotency records,
// view reads).
func (s *Store) DB() *sql.DB { return s.db }

// Registry returns the payload registry in use
func (s *Store) Registry() *Registry { return s.registry }

// Append writes one event in its own transaction and returns the
// assigned global id.
func (s *Store) Append(ctx context.Context, ev *types.Event) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	id, err := s.AppendTx(ctx, tx, ev)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return id, nil
}

// AppendTx writes one event inside the caller's transaction. The caller
// may bundle the idempotency record or resource reservations into the
// same transaction. Returns types.ErrSequenceConflict when another
// writer already holds (aggregate_type, aggregate_id, aggregate_seq).
func (s *Store) AppendTx(ctx context.Context, tx *sql.Tx, ev *types.Event) (int64, error) {
	payload, err := s.registry.Canonicalize(ev.EventType, ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("canonicalize %s: %w", ev.EventType, err)
	}

	if ev.EventVersion == 0 {
		ev.EventVersion = 1
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	var eventID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (
			aggregate_type, aggregate_id, aggregate_seq,
			event_type, event_version, actor_type, actor_id,
			org_id, app_id, env_id,
			request_id, idempotency_key, correlation_id, causation_id,
			occurred_at, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,nullif($8,''),nullif($9,''),nullif($10,''),$11,nullif($12,''),nullif($13,''),nullif($14,''),$15,$16)
		RETURNING event_id`,
		ev.AggregateType, ev.AggregateID, ev.AggregateSeq,
		ev.EventType, ev.EventVersion, ev.ActorType, ev.ActorID,
		ev.OrgID, ev.AppID, ev.EnvID,
		ev.RequestID, ev.IdempotencyKey, ev.CorrelationID, ev.CausationID,
		ev.OccurredAt, payload,
	).Scan(&eventID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return 0, fmt.Errorf("append %s/%s seq %d: %w",
				ev.AggregateType, ev.AggregateID, ev.AggregateSeq, types.ErrSequenceConflict)
		}
		return 0, fmt.Errorf("append event: %w", err)
	}

	ev.EventID = eventID
	ev.Payload = payload
	return eventID, nil
}

// AppendBatch writes all events in submission order within one
// transaction, assigning contiguous ids. All-or-nothing.
func (s *Store) AppendBatch(ctx context.Context, evs []*types.Event) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch append: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(evs))
	for _, ev := range evs {
		id, err := s.AppendTx(ctx, tx, ev)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch append: %w", err)
	}
	return ids, nil
}

// QueryAfter returns up to limit events with event_id strictly greater
// than afterID, ascending. Projections drive off this.
func (s *Store) QueryAfter(ctx context.Context, afterID int64, limit int) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events WHERE event_id > $1
		ORDER BY event_id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query after %d: %w", afterID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryByAggregate returns the full event history of one aggregate in
// seq order.
func (s *Store) QueryByAggregate(ctx context.Context, at types.AggregateType, id string) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY aggregate_seq ASC`, at, id)
	if err != nil {
		return nil, fmt.Errorf("query aggregate %s/%s: %w", at, id, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestAggregateSeq returns the highest seq an aggregate has seen, or 0
// if it has no events. Command handlers compute next_seq from this.
func (s *Store) LatestAggregateSeq(ctx context.Context, at types.AggregateType, id string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT max(aggregate_seq) FROM events
		WHERE aggregate_type = $1 AND aggregate_id = $2`, at, id).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest seq %s/%s: %w", at, id, err)
	}
	return seq.Int64, nil
}

// OrgFilter narrows QueryByOrgAfter
type OrgFilter struct {
	EventType string
	AppID     string
	EnvID     string
}

// QueryByOrgAfter returns events for one org after a cursor, ascending,
// optionally filtered. Used by audit, the events API and the route tailer.
func (s *Store) QueryByOrgAfter(ctx context.Context, orgID string, cursor int64, limit int, filter OrgFilter) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE org_id = $1 AND event_id > $2
		  AND ($3 = '' OR event_type = $3 OR event_type LIKE $3 || '.%')
		  AND ($4 = '' OR app_id = $4)
		  AND ($5 = '' OR env_id = $5)
		ORDER BY event_id ASC LIMIT $6`,
		orgID, cursor, filter.EventType, filter.AppID, filter.EnvID, limit)
	if err != nil {
		return nil, fmt.Errorf("query org %s after %d: %w", orgID, cursor, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryByTypeAfter returns events of one type after a cursor, ascending
func (s *Store) QueryByTypeAfter(ctx context.Context, eventType string, cursor int64, limit int) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE event_type = $1 AND event_id > $2
		ORDER BY event_id ASC LIMIT $3`, eventType, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("query type %s after %d: %w", eventType, cursor, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MaxEventID returns the current global high-water mark, 0 when empty.
// The node-plan server publishes this as its consistency cursor.
func (s *Store) MaxEventID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT max(event_id) FROM events`).Scan(&max); err != nil {
		return 0, fmt.Errorf("max event id: %w", err)
	}
	return max.Int64, nil
}

// NextSuffix pulls the next value from a named allocation sequence.
// Satisfies ipam.SuffixSource via SequenceSource.
func (s *Store) NextSuffix(ctx context.Context, sequence string) (uint64, error) {
	var v int64
	// sequence names are compile-time constants, never user input
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT nextval('%s')`, sequence)).Scan(&v); err != nil {
		return 0, fmt.Errorf("nextval %s: %w", sequence, err)
	}
	return uint64(v), nil
}

// SequenceSource adapts one named database sequence to ipam.SuffixSource
type SequenceSource struct {
	Store    *Store
	Sequence string
}

// NextSuffix implements ipam.SuffixSource
func (s *SequenceSource) NextSuffix() (uint64, error) {
	return s.Store.NextSuffix(context.Background(), s.Sequence)
}

func scanEvents(rows *sql.Rows) ([]*types.Event, error) {
	var out []*types.Event
	for rows.Next() {
		var ev types.Event
		if err := rows.Scan(
			&ev.EventID, &ev.AggregateType, &ev.AggregateID, &ev.AggregateSeq,
			&ev.EventType, &ev.EventVersion, &ev.ActorType, &ev.ActorID,
			&ev.OrgID, &ev.AppID, &ev.EnvID,
			&ev.RequestID, &ev.IdempotencyKey, &ev.CorrelationID, &ev.CausationID,
			&ev.OccurredAt, &ev.Payload,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
