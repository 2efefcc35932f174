package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/auth"
	"github.com/plfm/plfm/pkg/types"
)

// SystemCaller builds the caller the scheduler and node-facing services
// act as.
func SystemCaller(component, requestID string) *Caller {
	return &Caller{
		Principal: &auth.Principal{
			ActorType: types.ActorSystem,
			ActorID:   component,
			Role:      auth.RoleAdmin,
		},
		RequestID: requestID,
	}
}

// EnrollNodeInput registers a worker with the control plane
type EnrollNodeInput struct {
	WireGuardPubKey string            `json:"wireguardPubKey"`
	Arch            string            `json:"arch"`
	CPUCores        float64           `json:"cpuCores"`
	MemoryBytes     int64             `json:"memoryBytes"`
	Labels          map[string]string `json:"labels"`
}

// EnrollNodeResult carries the identity assigned to a new node
type EnrollNodeResult struct {
	NodeID      string
	OverlayIPv6 string
	Receipt     *Receipt
}

// EnrollNode allocates a node overlay address and appends node.enrolled.
// Re-enrolling the same WireGuard key returns the existing identity.
func (s *Service) EnrollNode(ctx context.Context, caller *Caller, in *EnrollNodeInput) (*EnrollNodeResult, error) {
	if in.WireGuardPubKey == "" {
		return nil, fmt.Errorf("wireguardPubKey required: %w", types.ErrBadRequest)
	}

	// idempotent re-enroll by pubkey
	var existingID, existingOverlay string
	err := s.events.DB().QueryRowContext(ctx,
		`SELECT node_id, overlay_ipv6 FROM node_view WHERE wireguard_pub_key = $1`,
		in.WireGuardPubKey).Scan(&existingID, &existingOverlay)
	if err == nil {
		return &EnrollNodeResult{NodeID: existingID, OverlayIPv6: existingOverlay,
			Receipt: &Receipt{Kind: "node", IDs: map[string]string{"nodeId": existingID}, Replayed: true}}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup node by pubkey: %w", err)
	}

	overlay, err := s.nodeAlloc.Allocate()
	if err != nil {
		return nil, err
	}

	nodeID := uuid.New().String()
	receipt, err := s.run(ctx, caller, "nodes.enroll", []string{"node_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateNode,
			AggregateID:   nodeID,
			EventType:     "node.enrolled",
			Payload: payloadJSON(map[string]interface{}{
				"nodeId":          nodeID,
				"wireguardPubKey": in.WireGuardPubKey,
				"overlayIpv6":     overlay.String(),
				"arch":            in.Arch,
				"cpuCores":        in.CPUCores,
				"memoryBytes":     in.MemoryBytes,
				"labels":          in.Labels,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "node",
			IDs:     map[string]string{"nodeId": nodeID},
			EventID: eventID,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &EnrollNodeResult{NodeID: nodeID, OverlayIPv6: overlay.String(), Receipt: receipt}, nil
}

var validNodeTransitions = map[types.NodeState][]types.NodeState{
	types.NodeActive:   {types.NodeDraining, types.NodeDisabled, types.NodeDegraded, types.NodeOffline},
	types.NodeDraining: {types.NodeActive, types.NodeDisabled, types.NodeOffline},
	types.NodeDegraded: {types.NodeActive, types.NodeDraining, types.NodeOffline},
	types.NodeOffline:  {types.NodeActive, types.NodeDisabled},
	types.NodeDisabled: {types.NodeActive},
}

// SetNodeState appends node.state_changed after checking the transition
func (s *Service) SetNodeState(ctx context.Context, caller *Caller, nodeID string, state types.NodeState, reason string) (*Receipt, error) {
	node, err := s.views.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.State == state {
		return &Receipt{Kind: "node", IDs: map[string]string{"nodeId": nodeID}, Replayed: true}, nil
	}
	allowed := false
	for _, next := range validNodeTransitions[node.State] {
		if next == state {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("node %s cannot go %s -> %s: %w", nodeID, node.State, state, types.ErrConflict)
	}

	return s.run(ctx, caller, "nodes.state", []string{"node_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateNode,
			AggregateID:   nodeID,
			EventType:     "node.state_changed",
			Payload: payloadJSON(map[string]interface{}{
				"state":  state,
				"reason": reason,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "node",
			IDs:     map[string]string{"nodeId": nodeID},
			EventID: eventID,
		}, nil
	})
}

// ReportInstanceStatus appends instance.status_changed on behalf of a
// node agent. Out-of-date reports for unknown instances are dropped.
func (s *Service) ReportInstanceStatus(ctx context.Context, caller *Caller, instanceID string, status types.InstanceStatus, bootID string, exitCode *int, reason string) (*Receipt, error) {
	switch status {
	case types.StatusBooting, types.StatusReady, types.StatusDraining, types.StatusStopped, types.StatusFailed:
	default:
		return nil, fmt.Errorf("invalid instance status %q: %w", status, types.ErrBadRequest)
	}
	inst, err := s.views.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, caller, "instances.status", nil, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateInstance,
			AggregateID:   instanceID,
			EventType:     "instance.status_changed",
			OrgID:         inst.OrgID,
			AppID:         inst.AppID,
			EnvID:         inst.EnvID,
			Payload: payloadJSON(map[string]interface{}{
				"status":   status,
				"bootId":   bootID,
				"exitCode": exitCode,
				"reason":   reason,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "instance",
			IDs:     map[string]string{"instanceId": instanceID},
			EventID: eventID,
		}, nil
	})
}
