package command

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/secrets"
	"github.com/plfm/plfm/pkg/types"
)

// PutSecretsInput replaces the full secret set of an env
type PutSecretsInput struct {
	EnvID  string            `json:"envId"`
	Values map[string]string `json:"values"`
}

// PutSecrets renders, encrypts and versions a secret bundle. An
// unchanged content hash returns the current version without appending.
func (s *Service) PutSecrets(ctx context.Context, caller *Caller, in *PutSecretsInput) (*Receipt, error) {
	if in.EnvID == "" {
		return nil, fmt.Errorf("envId required: %w", types.ErrBadRequest)
	}
	if s.secrets == nil {
		return nil, fmt.Errorf("secrets master key not configured: %w", types.ErrInternal)
	}
	// an empty set is valid and renders a header-only envelope
	for k, v := range in.Values {
		if err := secrets.ValidateKey(k); err != nil {
			return nil, fmt.Errorf("%v: %w", err, types.ErrBadRequest)
		}
		if err := secrets.ValidateValue(k, v); err != nil {
			return nil, fmt.Errorf("%v: %w", err, types.ErrBadRequest)
		}
	}
	env, err := s.views.GetEnv(ctx, in.EnvID)
	if err != nil {
		return nil, err
	}

	rendered := secrets.Render(in.Values)
	contentHash := secrets.ContentHash(rendered)

	current, err := s.views.LatestSecretVersion(ctx, in.EnvID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.ContentHash == contentHash {
		return &Receipt{
			Kind: "secret_bundle",
			IDs: map[string]string{
				"envId":     in.EnvID,
				"versionId": current.VersionID,
			},
			Replayed: true,
		}, nil
	}

	ciphertext, err := s.secrets.Encrypt(rendered)
	if err != nil {
		return nil, err
	}

	bundleID := in.EnvID // one bundle aggregate per env
	versionID := uuid.New().String()
	return s.run(ctx, caller, "secrets.put", []string{"secret_bundle_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateSecretBundle,
			AggregateID:   bundleID,
			EventType:     "secret_bundle.created",
			OrgID:         env.OrgID,
			AppID:         env.AppID,
			EnvID:         in.EnvID,
			Payload: payloadJSON(map[string]interface{}{
				"orgId":       env.OrgID,
				"appId":       env.AppID,
				"envId":       in.EnvID,
				"versionId":   versionID,
				"contentHash": contentHash,
				"ciphertext":  ciphertext,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind: "secret_bundle",
			IDs: map[string]string{
				"envId":     in.EnvID,
				"versionId": versionID,
			},
			EventID: eventID,
		}, nil
	})
}
