package command

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/quota"
	"github.com/plfm/plfm/pkg/types"
)

// CreateAppInput describes a new app under an org
type CreateAppInput struct {
	OrgID       string `json:"orgId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateApp appends app.created, reserving one app against the org quota
func (s *Service) CreateApp(ctx context.Context, caller *Caller, in *CreateAppInput) (*Receipt, error) {
	if in.OrgID == "" || in.Name == "" {
		return nil, fmt.Errorf("orgId and name required: %w", types.ErrBadRequest)
	}
	if _, err := s.views.GetOrg(ctx, in.OrgID); err != nil {
		return nil, err
	}

	appID := uuid.New().String()
	return s.run(ctx, caller, "apps.create", []string{"app_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		if err := s.quota.ReserveTx(ctx, tx, in.OrgID, quota.DimApps, 1); err != nil {
			return nil, err
		}
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateApp,
			AggregateID:   appID,
			EventType:     "app.created",
			OrgID:         in.OrgID,
			AppID:         appID,
			Payload: payloadJSON(map[string]interface{}{
				"orgId":       in.OrgID,
				"name":        in.Name,
				"description": in.Description,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "app",
			IDs:     map[string]string{"orgId": in.OrgID, "appId": appID},
			EventID: eventID,
		}, nil
	})
}

// DeleteApp appends app.deleted and releases the quota reservation
func (s *Service) DeleteApp(ctx context.Context, caller *Caller, appID string) (*Receipt, error) {
	app, err := s.views.GetApp(ctx, appID)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, caller, "apps.delete", []string{"app_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		if err := s.quota.ReserveTx(ctx, tx, app.OrgID, quota.DimApps, -1); err != nil {
			return nil, err
		}
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateApp,
			AggregateID:   appID,
			EventType:     "app.deleted",
			OrgID:         app.OrgID,
			AppID:         appID,
			Payload:       payloadJSON(map[string]interface{}{}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "app",
			IDs:     map[string]string{"orgId": app.OrgID, "appId": appID},
			EventID: eventID,
		}, nil
	})
}
