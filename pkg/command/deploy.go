package command

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/types"
)

// CreateDeployInput points an env at a release
type CreateDeployInput struct {
	EnvID     string `json:"envId"`
	ReleaseID string `json:"releaseId"`
}

// CreateDeploy appends deploy.created. One deploy per env rolls at a
// time; a second request while one is in flight conflicts.
func (s *Service) CreateDeploy(ctx context.Context, caller *Caller, in *CreateDeployInput) (*Receipt, error) {
	if in.EnvID == "" || in.ReleaseID == "" {
		return nil, fmt.Errorf("envId and releaseId required: %w", types.ErrBadRequest)
	}
	env, err := s.views.GetEnv(ctx, in.EnvID)
	if err != nil {
		return nil, err
	}
	release, err := s.views.GetRelease(ctx, in.ReleaseID)
	if err != nil {
		return nil, err
	}
	if release.AppID != env.AppID {
		return nil, fmt.Errorf("release %s belongs to a different app: %w", in.ReleaseID, types.ErrBadRequest)
	}
	active, err := s.views.ActiveDeploy(ctx, in.EnvID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("deploy %s still in flight for env %s: %w", active.DeployID, in.EnvID, types.ErrConflict)
	}

	deployID := uuid.New().String()
	return s.run(ctx, caller, "deploys.create", []string{"deploy_view", "env_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateDeploy,
			AggregateID:   deployID,
			EventType:     "deploy.created",
			OrgID:         env.OrgID,
			AppID:         env.AppID,
			EnvID:         in.EnvID,
			Payload: payloadJSON(map[string]interface{}{
				"orgId":     env.OrgID,
				"appId":     env.AppID,
				"envId":     in.EnvID,
				"releaseId": in.ReleaseID,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "deploy",
			IDs:     map[string]string{"envId": in.EnvID, "deployId": deployID, "releaseId": in.ReleaseID},
			EventID: eventID,
		}, nil
	})
}

// Rollback deploys the release of the previous succeeded deploy
func (s *Service) Rollback(ctx context.Context, caller *Caller, envID string) (*Receipt, error) {
	env, err := s.views.GetEnv(ctx, envID)
	if err != nil {
		return nil, err
	}

	deploys, err := s.views.ListDeploys(ctx, envID, 20)
	if err != nil {
		return nil, err
	}
	var target string
	for _, d := range deploys {
		if d.Status == types.DeploySucceeded && d.ReleaseID != env.DesiredReleaseID {
			target = d.ReleaseID
			break
		}
	}
	if target == "" {
		return nil, fmt.Errorf("no earlier succeeded release to roll back to: %w", types.ErrConflict)
	}

	return s.CreateDeploy(ctx, caller, &CreateDeployInput{EnvID: envID, ReleaseID: target})
}

// SetDeployStatus appends deploy.status_changed. The scheduler calls
// this as a system actor when a rollout finishes or fails.
func (s *Service) SetDeployStatus(ctx context.Context, caller *Caller, deployID string, status types.DeployStatus, reason string) (*Receipt, error) {
	switch status {
	case types.DeployRolling, types.DeploySucceeded, types.DeployFailed:
	default:
		return nil, fmt.Errorf("invalid deploy status %q: %w", status, types.ErrBadRequest)
	}
	deploy, err := s.views.GetDeploy(ctx, deployID)
	if err != nil {
		return nil, err
	}
	if deploy.Status == types.DeploySucceeded || deploy.Status == types.DeployFailed {
		return nil, fmt.Errorf("deploy %s already terminal (%s): %w", deployID, deploy.Status, types.ErrConflict)
	}

	return s.run(ctx, caller, "deploys.status", []string{"deploy_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateDeploy,
			AggregateID:   deployID,
			EventType:     "deploy.status_changed",
			OrgID:         deploy.OrgID,
			AppID:         deploy.AppID,
			EnvID:         deploy.EnvID,
			Payload: payloadJSON(map[string]interface{}{
				"status": status,
				"reason": reason,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "deploy",
			IDs:     map[string]string{"deployId": deployID},
			EventID: eventID,
		}, nil
	})
}
