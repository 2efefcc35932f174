package command

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/quota"
	"github.com/plfm/plfm/pkg/types"
)

// CreateEnvInput describes a new environment under an app
type CreateEnvInput struct {
	AppID string `json:"appId"`
	Name  string `json:"name"`
}

// CreateEnv appends env.created
func (s *Service) CreateEnv(ctx context.Context, caller *Caller, in *CreateEnvInput) (*Receipt, error) {
	if in.AppID == "" || in.Name == "" {
		return nil, fmt.Errorf("appId and name required: %w", types.ErrBadRequest)
	}
	app, err := s.views.GetApp(ctx, in.AppID)
	if err != nil {
		return nil, err
	}

	envID := uuid.New().String()
	return s.run(ctx, caller, "envs.create", []string{"env_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		if err := s.quota.ReserveTx(ctx, tx, app.OrgID, quota.DimEnvs, 1); err != nil {
			return nil, err
		}
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateEnv,
			AggregateID:   envID,
			EventType:     "env.created",
			OrgID:         app.OrgID,
			AppID:         in.AppID,
			EnvID:         envID,
			Payload: payloadJSON(map[string]interface{}{
				"orgId": app.OrgID,
				"appId": in.AppID,
				"name":  in.Name,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "env",
			IDs:     map[string]string{"orgId": app.OrgID, "appId": in.AppID, "envId": envID},
			EventID: eventID,
		}, nil
	})
}

// ScaleEnvInput sets the replica target for one process type
type ScaleEnvInput struct {
	ProcessType string `json:"processType"`
	Replicas    int    `json:"replicas"`
}

// ScaleEnv appends env.scaled. The scheduler converges on the new
// target on its next pass.
func (s *Service) ScaleEnv(ctx context.Context, caller *Caller, envID string, in *ScaleEnvInput) (*Receipt, error) {
	if in.ProcessType == "" {
		return nil, fmt.Errorf("processType required: %w", types.ErrBadRequest)
	}
	if in.Replicas < 0 {
		return nil, fmt.Errorf("replicas cannot be negative: %w", types.ErrBadRequest)
	}
	env, err := s.views.GetEnv(ctx, envID)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, caller, "envs.scale", []string{"env_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		delta := int64(in.Replicas - env.DesiredReplicas[in.ProcessType])
		if err := s.quota.ReserveTx(ctx, tx, env.OrgID, quota.DimInstances, delta); err != nil {
			return nil, err
		}
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateEnv,
			AggregateID:   envID,
			EventType:     "env.scaled",
			OrgID:         env.OrgID,
			AppID:         env.AppID,
			EnvID:         envID,
			Payload: payloadJSON(map[string]interface{}{
				"processType": in.ProcessType,
				"replicas":    in.Replicas,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "env",
			IDs:     map[string]string{"envId": envID},
			EventID: eventID,
		}, nil
	})
}

// EnableIPv4 claims a dedicated public IPv4 address for an env and
// appends env.ipv4_enabled. Enabling an env that already holds an
// address replays it.
func (s *Service) EnableIPv4(ctx context.Context, caller *Caller, envID string) (*Receipt, error) {
	env, err := s.views.GetEnv(ctx, envID)
	if err != nil {
		return nil, err
	}
	if env.DedicatedIPv4 != "" {
		return &Receipt{
			Kind: "env",
			IDs: map[string]string{
				"envId":         envID,
				"dedicatedIpv4": env.DedicatedIPv4,
			},
			Replayed: true,
		}, nil
	}

	return s.run(ctx, caller, "envs.ipv4", []string{"env_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		if err := s.quota.ReserveTx(ctx, tx, env.OrgID, quota.DimIPv4Allocations, 1); err != nil {
			return nil, err
		}
		addr, err := s.ipv4.ClaimTx(ctx, tx, envID)
		if err != nil {
			return nil, err
		}
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateEnv,
			AggregateID:   envID,
			EventType:     "env.ipv4_enabled",
			OrgID:         env.OrgID,
			AppID:         env.AppID,
			EnvID:         envID,
			Payload: payloadJSON(map[string]interface{}{
				"dedicatedIpv4": addr,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "env",
			IDs:     map[string]string{"envId": envID, "dedicatedIpv4": addr},
			EventID: eventID,
		}, nil
	})
}

// DeleteEnv appends env.deleted. Running instances drain on the next
// scheduler pass once the env disappears from the live set.
func (s *Service) DeleteEnv(ctx context.Context, caller *Caller, envID string) (*Receipt, error) {
	env, err := s.views.GetEnv(ctx, envID)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, caller, "envs.delete", []string{"env_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		if err := s.quota.ReserveTx(ctx, tx, env.OrgID, quota.DimEnvs, -1); err != nil {
			return nil, err
		}
		released, err := s.ipv4.ReleaseTx(ctx, tx, envID)
		if err != nil {
			return nil, err
		}
		if released != "" {
			if err := s.quota.ReserveTx(ctx, tx, env.OrgID, quota.DimIPv4Allocations, -1); err != nil {
				return nil, err
			}
		}
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateEnv,
			AggregateID:   envID,
			EventType:     "env.deleted",
			OrgID:         env.OrgID,
			AppID:         env.AppID,
			EnvID:         envID,
			Payload:       payloadJSON(map[string]interface{}{}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "env",
			IDs:     map[string]string{"envId": envID},
			EventID: eventID,
		}, nil
	})
}
