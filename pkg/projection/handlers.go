package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/plfm/plfm/pkg/types"
)

// AllHandlers returns every view projection the control plane runs
func AllHandlers() []Handler {
	return []Handler{
		&OrgProjection{},
		&AppProjection{},
		&EnvProjection{},
		&ReleaseProjection{},
		&DeployProjection{},
		&RouteProjection{},
		&SecretBundleProjection{},
		&VolumeProjection{},
		&SnapshotProjection{},
		&InstanceProjection{},
		&NodeProjection{},
	}
}

// ViewNames lists the projection names an endpoint can wait on
func ViewNames() []string {
	names := make([]string, 0)
	for _, h := range AllHandlers() {
		names = append(names, h.Name())
	}
	return names
}

// OrgProjection maintains org_view
type OrgProjection struct{}

func (p *OrgProjection) Name() string { return "org_view" }

func (p *OrgProjection) EventTypes() []string {
	return []string{"org.created", "org.deleted"}
}

func (p *OrgProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	switch ev.EventType {
	case "org.created":
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO org_view (org_id, name, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (org_id) DO NOTHING`,
			ev.AggregateID, payload.Name, ev.OccurredAt)
		return err
	case "org.deleted":
		_, err := tx.ExecContext(ctx, `
			UPDATE org_view SET is_deleted = true,
				resource_version = resource_version + 1, updated_at = $2
			WHERE org_id = $1`, ev.AggregateID, ev.OccurredAt)
		return err
	}
	return nil
}

// AppProjection maintains app_view
type AppProjection struct{}

func (p *AppProjection) Name() string { return "app_view" }

func (p *AppProjection) EventTypes() []string {
	return []string{"app.created", "app.deleted"}
}

func (p *AppProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	switch ev.EventType {
	case "app.created":
		var payload struct {
			OrgID       string `json:"orgId"`
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO app_view (app_id, org_id, name, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (app_id) DO NOTHING`,
			ev.AggregateID, payload.OrgID, payload.Name, payload.Description, ev.OccurredAt)
		return err
	case "app.deleted":
		_, err := tx.ExecContext(ctx, `
			UPDATE app_view SET is_deleted = true,
				resource_version = resource_version + 1, updated_at = $2
			WHERE app_id = $1`, ev.AggregateID, ev.OccurredAt)
		return err
	}
	return nil
}

// EnvProjection maintains env_view, including the desired release pointer
// that deploys move.
type EnvProjection struct{}

func (p *EnvProjection) Name() string { return "env_view" }

func (p *EnvProjection) EventTypes() []string {
	return []string{"env.created", "env.scaled", "env.ipv4_enabled", "env.deleted", "deploy.created"}
}

func (p *EnvProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	switch ev.EventType {
	case "env.created":
		var payload struct {
			OrgID string `json:"orgId"`
			AppID string `json:"appId"`
			Name  string `json:"name"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO env_view (env_id, org_id, app_id, name, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (env_id) DO NOTHING`,
			ev.AggregateID, payload.OrgID, payload.AppID, payload.Name, ev.OccurredAt)
		return err
	case "env.scaled":
		var payload struct {
			ProcessType string `json:"processType"`
			Replicas    int    `json:"replicas"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE env_view
			SET desired_replicas = jsonb_set(desired_replicas, ARRAY[$2], to_jsonb($3::int)),
				resource_version = resource_version + 1, updated_at = $4
			WHERE env_id = $1`,
			ev.AggregateID, payload.ProcessType, payload.Replicas, ev.OccurredAt)
		return err
	case "env.ipv4_enabled":
		var payload struct {
			DedicatedIPv4 string `json:"dedicatedIpv4"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE env_view SET dedicated_ipv4 = $2,
				resource_version = resource_version + 1, updated_at = $3
			WHERE env_id = $1`,
			ev.AggregateID, payload.DedicatedIPv4, ev.OccurredAt)
		return err
	case "env.deleted":
		_, err := tx.ExecContext(ctx, `
			UPDATE env_view SET is_deleted = true,
				resource_version = resource_version + 1, updated_at = $2
			WHERE env_id = $1`, ev.AggregateID, ev.OccurredAt)
		return err
	case "deploy.created":
		var payload struct {
			EnvID     string `json:"envId"`
			ReleaseID string `json:"releaseId"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE env_view SET desired_release_id = $2,
				resource_version = resource_version + 1, updated_at = $3
			WHERE env_id = $1`, payload.EnvID, payload.ReleaseID, ev.OccurredAt)
		return err
	}
	return nil
}

// ReleaseProjection maintains release_view
type ReleaseProjection struct{}

func (p *ReleaseProjection) Name() string { return "release_view" }

func (p *ReleaseProjection) EventTypes() []string {
	return []string{"release.created"}
}

func (p *ReleaseProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var payload struct {
		OrgID                 string            `json:"orgId"`
		AppID                 string            `json:"appId"`
		ImageRef              string            `json:"imageRef"`
		ImageDigest           string            `json:"imageDigest"`
		ImageDigestByArch     map[string]string `json:"imageDigestByArch"`
		ManifestSchemaVersion int32             `json:"manifestSchemaVersion"`
		ManifestHash          string            `json:"manifestHash"`
		Command               []string          `json:"command"`
		ProcessTypes          json.RawMessage   `json:"processTypes"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return err
	}
	byArch, _ := json.Marshal(payload.ImageDigestByArch)
	command, _ := json.Marshal(payload.Command)
	processTypes := payload.ProcessTypes
	if len(processTypes) == 0 {
		processTypes = json.RawMessage("{}")
	}
	if payload.ManifestSchemaVersion == 0 {
		payload.ManifestSchemaVersion = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO release_view (release_id, org_id, app_id, image_ref, image_digest,
			image_digest_by_arch, manifest_schema_version, manifest_hash, command,
			process_types, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (release_id) DO NOTHING`,
		ev.AggregateID, payload.OrgID, payload.AppID, payload.ImageRef,
		payload.ImageDigest, byArch, payload.ManifestSchemaVersion,
		payload.ManifestHash, command, []byte(processTypes), ev.OccurredAt)
	return err
}

// DeployProjection maintains deploy_view
type DeployProjection struct{}

func (p *DeployProjection) Name() string { return "deploy_view" }

func (p *DeployProjection) EventTypes() []string {
	return []string{"deploy.created", "deploy.status_changed"}
}

func (p *DeployProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	switch ev.EventType {
	case "deploy.created":
		var payload struct {
			OrgID     string `json:"orgId"`
			AppID     string `json:"appId"`
			EnvID     string `json:"envId"`
			ReleaseID string `json:"releaseId"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO deploy_view (deploy_id, org_id, app_id, env_id, release_id,
				status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (deploy_id) DO NOTHING`,
			ev.AggregateID, payload.OrgID, payload.AppID, payload.EnvID,
			payload.ReleaseID, types.DeployPending, ev.OccurredAt)
		return err
	case "deploy.status_changed":
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		// "completed" is a legacy label for the same terminal state
		if payload.Status == "completed" {
			payload.Status = string(types.DeploySucceeded)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE deploy_view SET status = $2,
				resource_version = resource_version + 1, updated_at = $3
			WHERE deploy_id = $1`, ev.AggregateID, payload.Status, ev.OccurredAt)
		return err
	}
	return nil
}

// RouteProjection maintains route_view
type RouteProjection struct{}

func (p *RouteProjection) Name() string { return "route_view" }

func (p *RouteProjection) EventTypes() []string {
	return []string{"route.created", "route.updated", "route.deleted"}
}

func (p *RouteProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	switch ev.EventType {
	case "route.created":
		var payload struct {
			OrgID               string `json:"orgId"`
			AppID               string `json:"appId"`
			EnvID               string `json:"envId"`
			Hostname            string `json:"hostname"`
			ListenPort          int    `json:"listenPort"`
			BackendProcessType  string `json:"backendProcessType"`
			BackendPort         int    `json:"backendPort"`
			ProtocolHint        string `json:"protocolHint"`
			ProxyProtocol       string `json:"proxyProtocol"`
			AllowNonTLSFallback bool   `json:"allowNonTlsFallback"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		if payload.ProtocolHint == "" {
			payload.ProtocolHint = string(types.ProtocolTLSPassthrough)
		}
		if payload.ProxyProtocol == "" {
			payload.ProxyProtocol = string(types.ProxyProtocolOff)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO route_view (route_id, org_id, app_id, env_id, hostname,
				listen_port, backend_process_type, backend_port, protocol_hint,
				proxy_protocol, allow_non_tls_fallback, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
			ON CONFLICT (route_id) DO NOTHING`,
			ev.AggregateID, payload.OrgID, payload.AppID, payload.EnvID,
			payload.Hostname, payload.ListenPort, payload.BackendProcessType,
			payload.BackendPort, payload.ProtocolHint, payload.ProxyProtocol,
			payload.AllowNonTLSFallback, ev.OccurredAt)
		return err
	case "route.updated":
		var payload struct {
			BackendProcessType string `json:"backendProcessType"`
			BackendPort        int    `json:"backendPort"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE route_view SET
				backend_process_type = coalesce(nullif($2, ''), backend_process_type),
				backend_port = CASE WHEN $3 > 0 THEN $3 ELSE backend_port END,
				resource_version = resource_version + 1, updated_at = $4
			WHERE route_id = $1`,
			ev.AggregateID, payload.BackendProcessType, payload.BackendPort, ev.OccurredAt)
		return err
	case "route.deleted":
		_, err := tx.ExecContext(ctx, `
			UPDATE route_view SET is_deleted = true,
				resource_version = resource_version + 1, updated_at = $2
			WHERE route_id = $1`, ev.AggregateID, ev.OccurredAt)
		return err
	}
	return nil
}

// SecretBundleProjection maintains secret_bundle_view
type SecretBundleProjection struct{}

func (p *SecretBundleProjection) Name() string { return "secret_bundle_view" }

func (p *SecretBundleProjection) EventTypes() []string {
	return []string{"secret_bundle.created"}
}

func (p *SecretBundleProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var payload struct {
		OrgID       string `json:"orgId"`
		AppID       string `json:"appId"`
		EnvID       string `json:"envId"`
		VersionID   string `json:"versionId"`
		ContentHash string `json:"contentHash"`
		Ciphertext  []byte `json:"ciphertext"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO secret_bundle_view (version_id, bundle_id, org_id, app_id,
			env_id, content_hash, ciphertext, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (version_id) DO NOTHING`,
		payload.VersionID, ev.AggregateID, payload.OrgID, payload.AppID,
		payload.EnvID, payload.ContentHash, payload.Ciphertext, ev.OccurredAt)
	return err
}

// VolumeProjection maintains volume_view and volume_attachment_view
type VolumeProjection struct{}

func (p *VolumeProjection) Name() string { return "volume_view" }

func (p *VolumeProjection) EventTypes() []string {
	return []string{"volume.created", "volume.attached", "volume.detached", "volume.deleted"}
}

func (p *VolumeProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	switch ev.EventType {
	case "volume.created":
		var payload struct {
			OrgID     string `json:"orgId"`
			AppID     string `json:"appId"`
			EnvID     string `json:"envId"`
			Name      string `json:"name"`
			SizeBytes int64  `json:"sizeBytes"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO volume_view (volume_id, org_id, app_id, env_id, name, size_bytes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (volume_id) DO NOTHING`,
			ev.AggregateID, payload.OrgID, payload.AppID, payload.EnvID,
			payload.Name, payload.SizeBytes, ev.OccurredAt)
		return err
	case "volume.attached":
		var payload struct {
			VolumeID    string `json:"volumeId"`
			ProcessType string `json:"processType"`
			MountPath   string `json:"mountPath"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO volume_attachment_view (attachment_id, volume_id, org_id,
				app_id, env_id, process_type, mount_path, created_at)
			SELECT $1, $2, v.org_id, v.app_id, v.env_id, $3, $4, $5
			FROM volume_view v WHERE v.volume_id = $2
			ON CONFLICT (attachment_id) DO NOTHING`,
			ev.AggregateID, payload.VolumeID, payload.ProcessType,
			payload.MountPath, ev.OccurredAt)
		return err
	case "volume.detached":
		_, err := tx.ExecContext(ctx, `
			DELETE FROM volume_attachment_view WHERE attachment_id = $1`, ev.AggregateID)
		return err
	case "volume.deleted":
		_, err := tx.ExecContext(ctx, `
			UPDATE volume_view SET is_deleted = true,
				resource_version = resource_version + 1
			WHERE volume_id = $1`, ev.AggregateID)
		return err
	}
	return nil
}

// SnapshotProjection maintains snapshot_view
type SnapshotProjection struct{}

func (p *SnapshotProjection) Name() string { return "snapshot_view" }

func (p *SnapshotProjection) EventTypes() []string {
	return []string{"snapshot.created"}
}

func (p *SnapshotProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var payload struct {
		OrgID     string `json:"orgId"`
		VolumeID  string `json:"volumeId"`
		SizeBytes int64  `json:"sizeBytes"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_view (snapshot_id, volume_id, org_id, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (snapshot_id) DO NOTHING`,
		ev.AggregateID, payload.VolumeID, payload.OrgID, payload.SizeBytes, ev.OccurredAt)
	return err
}

// InstanceProjection maintains instance_view and the status side-table
type InstanceProjection struct{}

func (p *InstanceProjection) Name() string { return "instance_view" }

func (p *InstanceProjection) EventTypes() []string {
	return []string{"instance.allocated", "instance.desired_state_changed", "instance.status_changed"}
}

func (p *InstanceProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	switch ev.EventType {
	case "instance.allocated":
		var payload struct {
			InstanceID       string                 `json:"instanceId"`
			OrgID            string                 `json:"orgId"`
			AppID            string                 `json:"appId"`
			EnvID            string                 `json:"envId"`
			NodeID           string                 `json:"nodeId"`
			ProcessType      string                 `json:"processType"`
			ReleaseID        string                 `json:"releaseId"`
			DeployID         string                 `json:"deployId"`
			SecretsVersionID string                 `json:"secretsVersionId"`
			OverlayIPv6      string                 `json:"overlayIpv6"`
			Resources        types.ResourceSnapshot `json:"resourcesSnapshot"`
			SpecHash         string                 `json:"specHash"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		resources, _ := json.Marshal(payload.Resources)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO instance_view (instance_id, org_id, app_id, env_id,
				process_type, node_id, desired_state, release_id, deploy_id,
				secrets_version_id, overlay_ipv6, resources, spec_hash,
				created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
			ON CONFLICT (instance_id) DO NOTHING`,
			payload.InstanceID, payload.OrgID, payload.AppID, payload.EnvID,
			payload.ProcessType, payload.NodeID, types.DesiredRunning,
			payload.ReleaseID, payload.DeployID, payload.SecretsVersionID,
			payload.OverlayIPv6, resources, payload.SpecHash, ev.OccurredAt)
		return err
	case "instance.desired_state_changed":
		var payload struct {
			DesiredState string `json:"desiredState"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		// generation marks respecs, not lifecycle transitions; a drain
		// must not look like a new spec to the agent
		_, err := tx.ExecContext(ctx, `
			UPDATE instance_view SET desired_state = $2,
				resource_version = resource_version + 1, updated_at = $3
			WHERE instance_id = $1`, ev.AggregateID, payload.DesiredState, ev.OccurredAt)
		return err
	case "instance.status_changed":
		var payload struct {
			Status   string `json:"status"`
			BootID   string `json:"bootId"`
			ExitCode *int   `json:"exitCode"`
			Reason   string `json:"reason"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO instance_status (instance_id, status, boot_id, exit_code, reason, reported_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (instance_id) DO UPDATE SET
				status = EXCLUDED.status, boot_id = EXCLUDED.boot_id,
				exit_code = EXCLUDED.exit_code, reason = EXCLUDED.reason,
				reported_at = EXCLUDED.reported_at`,
			ev.AggregateID, payload.Status, payload.BootID, payload.ExitCode,
			payload.Reason, ev.OccurredAt)
		return err
	}
	return nil
}

// NodeProjection maintains node_view
type NodeProjection struct{}

func (p *NodeProjection) Name() string { return "node_view" }

func (p *NodeProjection) EventTypes() []string {
	return []string{"node.enrolled", "node.state_changed"}
}

func (p *NodeProjection) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	switch ev.EventType {
	case "node.enrolled":
		var payload struct {
			NodeID          string            `json:"nodeId"`
			WireGuardPubKey string            `json:"wireguardPubKey"`
			OverlayIPv6     string            `json:"overlayIpv6"`
			Arch            string            `json:"arch"`
			CPUCores        float64           `json:"cpuCores"`
			MemoryBytes     int64             `json:"memoryBytes"`
			Labels          map[string]string `json:"labels"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		alloc, _ := json.Marshal(types.NodeAllocatable{
			CPUCores:             payload.CPUCores,
			MemoryBytes:          payload.MemoryBytes,
			AvailableCPUCores:    payload.CPUCores,
			AvailableMemoryBytes: payload.MemoryBytes,
		})
		labels, _ := json.Marshal(payload.Labels)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO node_view (node_id, state, wireguard_pub_key, overlay_ipv6,
				arch, allocatable, labels, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			ON CONFLICT (node_id) DO NOTHING`,
			payload.NodeID, types.NodeActive, payload.WireGuardPubKey,
			payload.OverlayIPv6, payload.Arch, alloc, labels, ev.OccurredAt)
		return err
	case "node.state_changed":
		var payload struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE node_view SET state = $2,
				resource_version = resource_version + 1, updated_at = $3
			WHERE node_id = $1`, ev.AggregateID, payload.State, ev.OccurredAt)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("node %s not in view", ev.AggregateID)
		}
		return nil
	}
	return nil
}
