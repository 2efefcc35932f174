package command

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/quota"
	"github.com/plfm/plfm/pkg/types"
)

// CreateVolumeInput describes persistent storage for an env
type CreateVolumeInput struct {
	EnvID     string `json:"envId"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
}

// CreateVolume appends volume.created, reserving the bytes against quota
func (s *Service) CreateVolume(ctx context.Context, caller *Caller, in *CreateVolumeInput) (*Receipt, error) {
	if in.EnvID == "" || in.Name == "" {
		return nil, fmt.Errorf("envId and name required: %w", types.ErrBadRequest)
	}
	if in.SizeBytes <= 0 {
		return nil, fmt.Errorf("sizeBytes must be positive: %w", types.ErrBadRequest)
	}
	env, err := s.views.GetEnv(ctx, in.EnvID)
	if err != nil {
		return nil, err
	}

	volumeID := uuid.New().String()
	return s.run(ctx, caller, "volumes.create", []string{"volume_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		if err := s.quota.ReserveTx(ctx, tx, env.OrgID, quota.DimVolumeBytes, in.SizeBytes); err != nil {
			return nil, err
		}
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateVolume,
			AggregateID:   volumeID,
			EventType:     "volume.created",
			OrgID:         env.OrgID,
			AppID:         env.AppID,
			EnvID:         in.EnvID,
			Payload: payloadJSON(map[string]interface{}{
				"orgId":     env.OrgID,
				"appId":     env.AppID,
				"envId":     in.EnvID,
				"name":      in.Name,
				"sizeBytes": in.SizeBytes,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "volume",
			IDs:     map[string]string{"envId": in.EnvID, "volumeId": volumeID},
			EventID: eventID,
		}, nil
	})
}

// AttachVolumeInput binds a volume to one process type at a mount path
type AttachVolumeInput struct {
	ProcessType string `json:"processType"`
	MountPath   string `json:"mountPath"`
}

// AttachVolume appends volume.attached. A volume-backed process is
// pinned to one replica, which the scheduler enforces.
func (s *Service) AttachVolume(ctx context.Context, caller *Caller, volumeID string, in *AttachVolumeInput) (*Receipt, error) {
	if in.ProcessType == "" {
		return nil, fmt.Errorf("processType required: %w", types.ErrBadRequest)
	}
	if !strings.HasPrefix(in.MountPath, "/") {
		return nil, fmt.Errorf("mountPath must be absolute: %w", types.ErrBadRequest)
	}
	vol, err := s.views.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}

	attachmentID := uuid.New().String()
	return s.run(ctx, caller, "volumes.attach", []string{"volume_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateVolume,
			AggregateID:   attachmentID,
			EventType:     "volume.attached",
			OrgID:         vol.OrgID,
			AppID:         vol.AppID,
			EnvID:         vol.EnvID,
			Payload: payloadJSON(map[string]interface{}{
				"volumeId":    volumeID,
				"processType": in.ProcessType,
				"mountPath":   in.MountPath,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "volume_attachment",
			IDs:     map[string]string{"volumeId": volumeID, "attachmentId": attachmentID},
			EventID: eventID,
		}, nil
	})
}

// DetachVolume appends volume.detached for one attachment
func (s *Service) DetachVolume(ctx context.Context, caller *Caller, volumeID, attachmentID string) (*Receipt, error) {
	vol, err := s.views.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, caller, "volumes.detach", []string{"volume_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateVolume,
			AggregateID:   attachmentID,
			EventType:     "volume.detached",
			OrgID:         vol.OrgID,
			AppID:         vol.AppID,
			EnvID:         vol.EnvID,
			Payload:       payloadJSON(map[string]interface{}{"volumeId": volumeID}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "volume_attachment",
			IDs:     map[string]string{"volumeId": volumeID, "attachmentId": attachmentID},
			EventID: eventID,
		}, nil
	})
}

// DeleteVolume appends volume.deleted and releases the byte reservation
func (s *Service) DeleteVolume(ctx context.Context, caller *Caller, volumeID string) (*Receipt, error) {
	vol, err := s.views.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, caller, "volumes.delete", []string{"volume_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		if err := s.quota.ReserveTx(ctx, tx, vol.OrgID, quota.DimVolumeBytes, -vol.SizeBytes); err != nil {
			return nil, err
		}
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateVolume,
			AggregateID:   volumeID,
			EventType:     "volume.deleted",
			OrgID:         vol.OrgID,
			AppID:         vol.AppID,
			EnvID:         vol.EnvID,
			Payload:       payloadJSON(map[string]interface{}{}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "volume",
			IDs:     map[string]string{"volumeId": volumeID},
			EventID: eventID,
		}, nil
	})
}

// CreateSnapshot appends snapshot.created for a volume
func (s *Service) CreateSnapshot(ctx context.Context, caller *Caller, volumeID string) (*Receipt, error) {
	vol, err := s.views.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}

	snapshotID := uuid.New().String()
	return s.run(ctx, caller, "snapshots.create", []string{"snapshot_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateSnapshot,
			AggregateID:   snapshotID,
			EventType:     "snapshot.created",
			OrgID:         vol.OrgID,
			Payload: payloadJSON(map[string]interface{}{
				"orgId":     vol.OrgID,
				"volumeId":  volumeID,
				"sizeBytes": vol.SizeBytes,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "snapshot",
			IDs:     map[string]string{"volumeId": volumeID, "snapshotId": snapshotID},
			EventID: eventID,
		}, nil
	})
}
