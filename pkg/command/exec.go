package command

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/types"
)

// StartExecSessionInput opens an interactive session on an instance
type StartExecSessionInput struct {
	InstanceID string   `json:"instanceId"`
	Command    []string `json:"command"`
}

// StartExecSessionResult carries the session id plus the node target
// the API proxies the websocket to.
type StartExecSessionResult struct {
	SessionID   string
	NodeID      string
	NodeOverlay string
	Receipt     *Receipt
}

// StartExecSession appends exec_session.started and resolves the node
// endpoint serving the instance.
func (s *Service) StartExecSession(ctx context.Context, caller *Caller, in *StartExecSessionInput) (*StartExecSessionResult, error) {
	if in.InstanceID == "" {
		return nil, fmt.Errorf("instanceId required: %w", types.ErrBadRequest)
	}
	inst, err := s.views.GetInstance(ctx, in.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != types.StatusReady {
		return nil, fmt.Errorf("instance %s is %s, not ready: %w", in.InstanceID, inst.Status, types.ErrConflict)
	}
	node, err := s.views.GetNode(ctx, inst.NodeID)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	receipt, err := s.run(ctx, caller, "exec.start", nil, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateExecSession,
			AggregateID:   sessionID,
			EventType:     "exec_session.started",
			OrgID:         inst.OrgID,
			EnvID:         inst.EnvID,
			Payload: payloadJSON(map[string]interface{}{
				"orgId":      inst.OrgID,
				"envId":      inst.EnvID,
				"instanceId": in.InstanceID,
				"command":    in.Command,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "exec_session",
			IDs:     map[string]string{"sessionId": sessionID, "instanceId": in.InstanceID},
			EventID: eventID,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &StartExecSessionResult{
		SessionID:   sessionID,
		NodeID:      inst.NodeID,
		NodeOverlay: node.OverlayIPv6.String(),
		Receipt:     receipt,
	}, nil
}

// EndExecSession appends exec_session.ended
func (s *Service) EndExecSession(ctx context.Context, caller *Caller, sessionID string, exitCode int, reason string) (*Receipt, error) {
	return s.run(ctx, caller, "exec.end", nil, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateExecSession,
			AggregateID:   sessionID,
			EventType:     "exec_session.ended",
			Payload: payloadJSON(map[string]interface{}{
				"exitCode": exitCode,
				"reason":   reason,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "exec_session",
			IDs:     map[string]string{"sessionId": sessionID},
			EventID: eventID,
		}, nil
	})
}
