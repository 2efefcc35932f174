package command

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/types"
)

// CreateOrgInput names a new org
type CreateOrgInput struct {
	Name string `json:"name"`
}

// CreateOrg appends org.created and waits for org_view
func (s *Service) CreateOrg(ctx context.Context, caller *Caller, in *CreateOrgInput) (*Receipt, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("org name required: %w", types.ErrBadRequest)
	}

	orgID := uuid.New().String()
	return s.run(ctx, caller, "orgs.create", []string{"org_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateOrg,
			AggregateID:   orgID,
			EventType:     "org.created",
			OrgID:         orgID,
			Payload:       payloadJSON(map[string]interface{}{"name": in.Name}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "org",
			IDs:     map[string]string{"orgId": orgID},
			EventID: eventID,
		}, nil
	})
}

// DeleteOrg appends org.deleted. Children are tombstoned lazily by
// their own deletes; the views hide them through the org join.
func (s *Service) DeleteOrg(ctx context.Context, caller *Caller, orgID string) (*Receipt, error) {
	if _, err := s.views.GetOrg(ctx, orgID); err != nil {
		return nil, err
	}

	return s.run(ctx, caller, "orgs.delete", []string{"org_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateOrg,
			AggregateID:   orgID,
			EventType:     "org.deleted",
			OrgID:         orgID,
			Payload:       payloadJSON(map[string]interface{}{}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "org",
			IDs:     map[string]string{"orgId": orgID},
			EventID: eventID,
		}, nil
	})
}
