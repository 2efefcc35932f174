package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/plfm/plfm/pkg/auth"
	"github.com/plfm/plfm/pkg/config"
	"github.com/plfm/plfm/pkg/eventlog"
	"github.com/plfm/plfm/pkg/idempotency"
	"github.com/plfm/plfm/pkg/ipam"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/metrics"
	"github.com/plfm/plfm/pkg/projection"
	"github.com/plfm/plfm/pkg/quota"
	"github.com/plfm/plfm/pkg/secrets"
	"github.com/plfm/plfm/pkg/types"
	"github.com/plfm/plfm/pkg/views"
)

// Caller carries the authenticated identity and request metadata into a
// command.
type Caller struct {
	Principal      *auth.Principal
	RequestID      string
	IdempotencyKey string
	Body           []byte // raw request body, hashed for idempotency
}

// Receipt is the uniform response of every mutation. EventID is the
// consistency cursor a client can wait on or pass back.
type Receipt struct {
	Kind     string            `json:"kind"`
	IDs      map[string]string `json:"ids"`
	EventID  int64             `json:"eventId"`
	Status   int               `json:"-"`
	Replayed bool              `json:"-"`
}

// Service executes commands: validate, reserve, append, then wait for
// the read views to catch up.
type Service struct {
	events  *eventlog.Store
	views   *views.Store
	idem    *idempotency.Store
	quota   *quota.Checker
	secrets *secrets.Manager
	hub     *projection.CheckpointHub

	nodeAlloc     *ipam.Allocator
	instanceAlloc *ipam.Allocator
	ipv4          *ipam.IPv4Pool

	waitTimeout time.Duration
}

// NewService wires the command layer
func NewService(cfg *config.Config, events *eventlog.Store, vs *views.Store, hub *projection.CheckpointHub, sm *secrets.Manager) *Service {
	db := events.DB()
	s := &Service{
		events:      events,
		views:       vs,
		idem:        idempotency.NewStore(db),
		quota:       quota.NewChecker(db),
		secrets:     sm,
		hub:         hub,
		ipv4:        ipam.NewIPv4Pool(db),
		waitTimeout: cfg.ProjectionWaitTimeout,
	}
	s.nodeAlloc = ipam.NewAllocator(cfg.NodeIPv6Prefix,
		&eventlog.SequenceSource{Store: events, Sequence: "node_overlay_suffix"},
		s.nodeOverlayExists)
	s.instanceAlloc = ipam.NewAllocator(cfg.InstanceIPv6Prefix,
		&eventlog.SequenceSource{Store: events, Sequence: "instance_overlay_suffix"},
		s.instanceOverlayExists)
	return s
}

// Views exposes the read side for the API layer
func (s *Service) Views() *views.Store { return s.views }

// Events exposes the log for the API layer's event stream
func (s *Service) Events() *eventlog.Store { return s.events }

// Hub exposes the checkpoint hub for read-your-writes waits
func (s *Service) Hub() *projection.CheckpointHub { return s.hub }

// InstanceAllocator hands the scheduler its overlay address source
func (s *Service) InstanceAllocator() *ipam.Allocator { return s.instanceAlloc }

func (s *Service) nodeOverlayExists(ip net.IP) (bool, error) {
	var exists bool
	err := s.events.DB().QueryRow(
		`SELECT EXISTS (SELECT 1 FROM node_view WHERE overlay_ipv6 = $1)`, ip.String()).Scan(&exists)
	return exists, err
}

func (s *Service) instanceOverlayExists(ip net.IP) (bool, error) {
	var exists bool
	err := s.events.DB().QueryRow(
		`SELECT EXISTS (SELECT 1 FROM instance_view WHERE overlay_ipv6 = $1)`, ip.String()).Scan(&exists)
	return exists, err
}

// run is the shared mutation pipeline. fn appends events inside the
// transaction and returns the receipt; run handles idempotency replay,
// one sequence-conflict retry, and the read-your-writes wait.
func (s *Service) run(ctx context.Context, caller *Caller, endpoint string, waitViews []string, fn func(ctx context.Context, tx *sql.Tx) (*Receipt, error)) (*Receipt, error) {
	if caller.Principal == nil {
		return nil, types.ErrUnauthorized
	}
	if !caller.Principal.CanWrite() {
		return nil, fmt.Errorf("role %s cannot mutate: %w", caller.Principal.Role, types.ErrForbidden)
	}

	requestHash := idempotency.RequestHash(caller.Body)
	key := idempotency.Key{
		OrgScope: caller.Principal.OrgID,
		ActorID:  caller.Principal.ActorID,
		Endpoint: endpoint,
		Value:    effectiveIdempotencyKey(caller.IdempotencyKey, requestHash),
	}

	rec, err := s.idem.Lookup(ctx, key, requestHash)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		var receipt Receipt
		if err := json.Unmarshal(rec.Body, &receipt); err != nil {
			return nil, fmt.Errorf("decode stored receipt: %w", err)
		}
		receipt.Status = rec.StatusCode
		receipt.Replayed = true
		return &receipt, nil
	}

	var receipt *Receipt
	for attempt := 0; ; attempt++ {
		var err error
		receipt, err = s.runOnce(ctx, caller, key, requestHash, fn)
		if err == nil {
			break
		}
		if errors.Is(err, types.ErrSequenceConflict) && attempt == 0 {
			metrics.SequenceConflicts.Inc()
			logger := log.WithRequestID(caller.RequestID)
			logger.Warn().Str("endpoint", endpoint).Msg("sequence conflict, retrying once")
			continue
		}
		return nil, err
	}

	if len(waitViews) > 0 && receipt.EventID > 0 {
		start := time.Now()
		err := s.hub.WaitFor(ctx, waitViews, receipt.EventID, s.waitTimeout)
		metrics.ProjectionWaitDuration.Observe(time.Since(start).Seconds())
		if errors.Is(err, types.ErrProjectionTimeout) {
			// the write is durable but unreadable; surface the lag
			return nil, fmt.Errorf("views did not reach event %d: %w", receipt.EventID, types.ErrProjectionTimeout)
		}
		if err != nil {
			return nil, err
		}
	}
	return receipt, nil
}

// effectiveIdempotencyKey falls back to the canonical request hash when
// the caller sent no Idempotency-Key, so a blind retry of the same
// request replays instead of duplicating.
func effectiveIdempotencyKey(headerKey, requestHash string) string {
	if headerKey != "" {
		return headerKey
	}
	return "derived:" + requestHash
}

func (s *Service) runOnce(ctx context.Context, caller *Caller, key idempotency.Key, requestHash string, fn func(ctx context.Context, tx *sql.Tx) (*Receipt, error)) (*Receipt, error) {
	tx, err := s.events.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin command: %w", err)
	}
	defer tx.Rollback()

	receipt, err := fn(ctx, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status == 0 {
		receipt.Status = http.StatusOK
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	if err := s.idem.SaveTx(ctx, tx, key, requestHash, receipt.Status, body); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit command: %w", err)
	}
	return receipt, nil
}

// append assigns the next aggregate seq, stamps actor and request
// metadata, and writes the event inside the command transaction.
func (s *Service) append(ctx context.Context, tx *sql.Tx, caller *Caller, ev *types.Event) (int64, error) {
	if ev.AggregateSeq == 0 {
		seq, err := s.events.LatestAggregateSeq(ctx, ev.AggregateType, ev.AggregateID)
		if err != nil {
			return 0, err
		}
		ev.AggregateSeq = seq + 1
	}
	ev.ActorType = caller.Principal.ActorType
	ev.ActorID = caller.Principal.ActorID
	ev.RequestID = caller.RequestID
	ev.IdempotencyKey = caller.IdempotencyKey

	id, err := s.events.AppendTx(ctx, tx, ev)
	if err != nil {
		return 0, err
	}
	metrics.EventsAppended.WithLabelValues(ev.EventType).Inc()
	return id, nil
}

func payloadJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
