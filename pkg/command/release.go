package command

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/types"
)

// CreateReleaseInput describes an immutable build to register
type CreateReleaseInput struct {
	AppID             string                        `json:"appId"`
	ImageRef          string                        `json:"imageRef"`
	ImageDigest       string                        `json:"imageDigest"`
	ImageDigestByArch map[string]string             `json:"imageDigestByArch"`
	Command           []string                      `json:"command"`
	ProcessTypes      map[string]*types.ProcessSpec `json:"processTypes"`
}

// CreateRelease appends release.created. The manifest hash is computed
// server-side over the canonical process-type manifest so identical
// submissions produce identical hashes.
func (s *Service) CreateRelease(ctx context.Context, caller *Caller, in *CreateReleaseInput) (*Receipt, error) {
	if in.AppID == "" || in.ImageRef == "" {
		return nil, fmt.Errorf("appId and imageRef required: %w", types.ErrBadRequest)
	}
	if in.ImageDigest == "" {
		return nil, fmt.Errorf("imageDigest required: %w", types.ErrBadRequest)
	}
	if !strings.HasPrefix(in.ImageDigest, "sha256:") {
		return nil, fmt.Errorf("imageDigest must be pinned (sha256:...): %w", types.ErrBadRequest)
	}
	for arch, digest := range in.ImageDigestByArch {
		if !strings.HasPrefix(digest, "sha256:") {
			return nil, fmt.Errorf("imageDigestByArch[%s] must be pinned: %w", arch, types.ErrBadRequest)
		}
	}
	if len(in.ProcessTypes) == 0 {
		in.ProcessTypes = map[string]*types.ProcessSpec{"web": {}}
	}
	app, err := s.views.GetApp(ctx, in.AppID)
	if err != nil {
		return nil, err
	}

	manifestHash, err := manifestHash(in.ProcessTypes)
	if err != nil {
		return nil, err
	}

	releaseID := uuid.New().String()
	return s.run(ctx, caller, "releases.create", []string{"release_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateRelease,
			AggregateID:   releaseID,
			EventType:     "release.created",
			OrgID:         app.OrgID,
			AppID:         in.AppID,
			Payload: payloadJSON(map[string]interface{}{
				"orgId":                 app.OrgID,
				"appId":                 in.AppID,
				"imageRef":              in.ImageRef,
				"imageDigest":           in.ImageDigest,
				"imageDigestByArch":     in.ImageDigestByArch,
				"manifestSchemaVersion": 1,
				"manifestHash":          manifestHash,
				"command":               in.Command,
				"processTypes":          in.ProcessTypes,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "release",
			IDs:     map[string]string{"appId": in.AppID, "releaseId": releaseID},
			EventID: eventID,
		}, nil
	})
}

// manifestHash hashes the process-type manifest. Map marshaling sorts
// keys, so the bytes are canonical.
func manifestHash(processTypes map[string]*types.ProcessSpec) (string, error) {
	b, err := json.Marshal(processTypes)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
