package views

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/plfm/plfm/pkg/types"
)

// Store wraps the derived read views with typed queries
type Store struct {
	db *sql.DB
}

// NewStore creates a view store over the control plane database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers composing transactions
func (s *Store) DB() *sql.DB { return s.db }

// GetOrg returns a non-deleted org or types.ErrNotFound
func (s *Store) GetOrg(ctx context.Context, orgID string) (*types.Org, error) {
	var o types.Org
	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, name, is_deleted, resource_version, created_at, updated_at
		FROM org_view WHERE org_id = $1`, orgID).
		Scan(&o.OrgID, &o.Name, &o.IsDeleted, &o.ResourceVersion, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("org %s: %w", orgID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if o.IsDeleted {
		return nil, fmt.Errorf("org %s: %w", orgID, types.ErrNotFound)
	}
	return &o, nil
}

// ListOrgs returns every live org ordered by creation
func (s *Store) ListOrgs(ctx context.Context) ([]*types.Org, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, name, is_deleted, resource_version, created_at, updated_at
		FROM org_view WHERE NOT is_deleted ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*types.Org
	for rows.Next() {
		var o types.Org
		if err := rows.Scan(&o.OrgID, &o.Name, &o.IsDeleted, &o.ResourceVersion,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, &o)
	}
	return orgs, rows.Err()
}

// GetApp returns a non-deleted app or types.ErrNotFound
func (s *Store) GetApp(ctx context.Context, appID string) (*types.App, error) {
	var a types.App
	err := s.db.QueryRowContext(ctx, `
		SELECT app_id, org_id, name, description, is_deleted, resource_version, created_at, updated_at
		FROM app_view WHERE app_id = $1`, appID).
		Scan(&a.AppID, &a.OrgID, &a.Name, &a.Description, &a.IsDeleted,
			&a.ResourceVersion, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("app %s: %w", appID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if a.IsDeleted {
		return nil, fmt.Errorf("app %s: %w", appID, types.ErrNotFound)
	}
	return &a, nil
}

// ListApps returns every live app under an org
func (s *Store) ListApps(ctx context.Context, orgID string) ([]*types.App, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, org_id, name, description, is_deleted, resource_version, created_at, updated_at
		FROM app_view WHERE org_id = $1 AND NOT is_deleted ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*types.App
	for rows.Next() {
		var a types.App
		if err := rows.Scan(&a.AppID, &a.OrgID, &a.Name, &a.Description, &a.IsDeleted,
			&a.ResourceVersion, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, &a)
	}
	return apps, rows.Err()
}

// GetEnv returns a non-deleted env or types.ErrNotFound
func (s *Store) GetEnv(ctx context.Context, envID string) (*types.Env, error) {
	var e types.Env
	var replicas []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT env_id, org_id, app_id, name, desired_release_id, desired_replicas,
			dedicated_ipv4, is_deleted, resource_version, created_at, updated_at
		FROM env_view WHERE env_id = $1`, envID).
		Scan(&e.EnvID, &e.OrgID, &e.AppID, &e.Name, &e.DesiredReleaseID, &replicas,
			&e.DedicatedIPv4, &e.IsDeleted, &e.ResourceVersion, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("env %s: %w", envID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if e.IsDeleted {
		return nil, fmt.Errorf("env %s: %w", envID, types.ErrNotFound)
	}
	if err := json.Unmarshal(replicas, &e.DesiredReplicas); err != nil {
		return nil, fmt.Errorf("env %s replicas: %w", envID, err)
	}
	return &e, nil
}

// ListEnvs returns every live env under an app
func (s *Store) ListEnvs(ctx context.Context, appID string) ([]*types.Env, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT env_id FROM env_view WHERE app_id = $1 AND NOT is_deleted ORDER BY created_at`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	envs := make([]*types.Env, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEnv(ctx, id)
		if err != nil {
			return nil, err
		}
		envs = append(envs, e)
	}
	return envs, nil
}

// ListLiveEnvs returns every non-deleted env across all orgs. The
// scheduler reconciles from this set.
func (s *Store) ListLiveEnvs(ctx context.Context) ([]*types.Env, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT env_id, org_id, app_id, name, desired_release_id, desired_replicas,
			dedicated_ipv4, is_deleted, resource_version, created_at, updated_at
		FROM env_view WHERE NOT is_deleted ORDER BY env_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []*types.Env
	for rows.Next() {
		var e types.Env
		var replicas []byte
		if err := rows.Scan(&e.EnvID, &e.OrgID, &e.AppID, &e.Name, &e.DesiredReleaseID,
			&replicas, &e.DedicatedIPv4, &e.IsDeleted, &e.ResourceVersion, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(replicas, &e.DesiredReplicas); err != nil {
			return nil, fmt.Errorf("env %s replicas: %w", e.EnvID, err)
		}
		envs = append(envs, &e)
	}
	return envs, rows.Err()
}

// GetRelease returns a release or types.ErrNotFound
func (s *Store) GetRelease(ctx context.Context, releaseID string) (*types.Release, error) {
	var r types.Release
	var byArch, command, processTypes []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT release_id, org_id, app_id, image_ref, image_digest, image_digest_by_arch,
			manifest_schema_version, manifest_hash, command, process_types,
			resource_version, created_at
		FROM release_view WHERE release_id = $1`, releaseID).
		Scan(&r.ReleaseID, &r.OrgID, &r.AppID, &r.ImageRef, &r.ImageDigest, &byArch,
			&r.ManifestSchemaVersion, &r.ManifestHash, &command, &processTypes,
			&r.ResourceVersion, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("release %s: %w", releaseID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(byArch, &r.ImageDigestByArch); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(command, &r.Command); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(processTypes, &r.ProcessTypes); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetDeploy returns a deploy or types.ErrNotFound
func (s *Store) GetDeploy(ctx context.Context, deployID string) (*types.Deploy, error) {
	var d types.Deploy
	err := s.db.QueryRowContext(ctx, `
		SELECT deploy_id, org_id, app_id, env_id, release_id, status,
			resource_version, created_at, updated_at
		FROM deploy_view WHERE deploy_id = $1`, deployID).
		Scan(&d.DeployID, &d.OrgID, &d.AppID, &d.EnvID, &d.ReleaseID, &d.Status,
			&d.ResourceVersion, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deploy %s: %w", deployID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDeploys returns deploys for an env, newest first
func (s *Store) ListDeploys(ctx context.Context, envID string, limit int) ([]*types.Deploy, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT deploy_id, org_id, app_id, env_id, release_id, status,
			resource_version, created_at, updated_at
		FROM deploy_view WHERE env_id = $1 ORDER BY created_at DESC LIMIT $2`, envID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deploys []*types.Deploy
	for rows.Next() {
		var d types.Deploy
		if err := rows.Scan(&d.DeployID, &d.OrgID, &d.AppID, &d.EnvID, &d.ReleaseID,
			&d.Status, &d.ResourceVersion, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deploys = append(deploys, &d)
	}
	return deploys, rows.Err()
}

// ActiveDeploy returns the newest non-terminal deploy for an env, or nil
func (s *Store) ActiveDeploy(ctx context.Context, envID string) (*types.Deploy, error) {
	deploys, err := s.ListDeploys(ctx, envID, 1)
	if err != nil {
		return nil, err
	}
	if len(deploys) == 0 {
		return nil, nil
	}
	d := deploys[0]
	if d.Status == types.DeploySucceeded || d.Status == types.DeployFailed {
		return nil, nil
	}
	return d, nil
}

func scanRoute(scan func(dest ...interface{}) error) (*types.Route, error) {
	var r types.Route
	err := scan(&r.RouteID, &r.OrgID, &r.AppID, &r.EnvID, &r.Hostname, &r.ListenPort,
		&r.BackendProcessType, &r.BackendPort, &r.ProtocolHint, &r.ProxyProtocol,
		&r.AllowNonTLSFallback, &r.IsDeleted, &r.ResourceVersion, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const routeColumns = `route_id, org_id, app_id, env_id, hostname, listen_port,
	backend_process_type, backend_port, protocol_hint, proxy_protocol,
	allow_non_tls_fallback, is_deleted, resource_version, created_at, updated_at`

// GetRoute returns a non-deleted route or types.ErrNotFound
func (s *Store) GetRoute(ctx context.Context, routeID string) (*types.Route, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+routeColumns+` FROM route_view WHERE route_id = $1`, routeID)
	r, err := scanRoute(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("route %s: %w", routeID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if r.IsDeleted {
		return nil, fmt.Errorf("route %s: %w", routeID, types.ErrNotFound)
	}
	return r, nil
}

// ListRoutes returns every live route, ordered for stable snapshots
func (s *Store) ListRoutes(ctx context.Context) ([]*types.Route, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+routeColumns+` FROM route_view WHERE NOT is_deleted ORDER BY hostname, listen_port`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []*types.Route
	for rows.Next() {
		r, err := scanRoute(rows.Scan)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// RouteExists reports whether a live route already claims (hostname, port)
func (s *Store) RouteExists(ctx context.Context, hostname string, port int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM route_view
			WHERE hostname = $1 AND listen_port = $2 AND NOT is_deleted)`,
		hostname, port).Scan(&exists)
	return exists, err
}

// GetSecretVersion returns one stored secret bundle version
func (s *Store) GetSecretVersion(ctx context.Context, versionID string) (*types.SecretBundle, error) {
	var b types.SecretBundle
	err := s.db.QueryRowContext(ctx, `
		SELECT version_id, bundle_id, org_id, app_id, env_id, content_hash, ciphertext,
			resource_version, created_at
		FROM secret_bundle_view WHERE version_id = $1`, versionID).
		Scan(&b.VersionID, &b.BundleID, &b.OrgID, &b.AppID, &b.EnvID, &b.ContentHash,
			&b.Ciphertext, &b.ResourceVersion, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("secret version %s: %w", versionID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// LatestSecretVersion returns the newest bundle version for an env, or
// nil when the env has no secrets.
func (s *Store) LatestSecretVersion(ctx context.Context, envID string) (*types.SecretBundle, error) {
	var versionID string
	err := s.db.QueryRowContext(ctx, `
		SELECT version_id FROM secret_bundle_view
		WHERE env_id = $1 ORDER BY created_at DESC, version_id DESC LIMIT 1`, envID).
		Scan(&versionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetSecretVersion(ctx, versionID)
}

// GetVolume returns a non-deleted volume or types.ErrNotFound
func (s *Store) GetVolume(ctx context.Context, volumeID string) (*types.Volume, error) {
	var v types.Volume
	err := s.db.QueryRowContext(ctx, `
		SELECT volume_id, org_id, app_id, env_id, name, size_bytes, is_deleted,
			resource_version, created_at
		FROM volume_view WHERE volume_id = $1`, volumeID).
		Scan(&v.VolumeID, &v.OrgID, &v.AppID, &v.EnvID, &v.Name, &v.SizeBytes,
			&v.IsDeleted, &v.ResourceVersion, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("volume %s: %w", volumeID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if v.IsDeleted {
		return nil, fmt.Errorf("volume %s: %w", volumeID, types.ErrNotFound)
	}
	return &v, nil
}

// ListVolumes returns every live volume in an env
func (s *Store) ListVolumes(ctx context.Context, envID string) ([]*types.Volume, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT volume_id, org_id, app_id, env_id, name, size_bytes, is_deleted,
			resource_version, created_at
		FROM volume_view WHERE env_id = $1 AND NOT is_deleted ORDER BY created_at`, envID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var volumes []*types.Volume
	for rows.Next() {
		var v types.Volume
		if err := rows.Scan(&v.VolumeID, &v.OrgID, &v.AppID, &v.EnvID, &v.Name,
			&v.SizeBytes, &v.IsDeleted, &v.ResourceVersion, &v.CreatedAt); err != nil {
			return nil, err
		}
		volumes = append(volumes, &v)
	}
	return volumes, rows.Err()
}

// ListAttachmentsByVolume returns every attachment of one volume
func (s *Store) ListAttachmentsByVolume(ctx context.Context, volumeID string) ([]*types.VolumeAttachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attachment_id, volume_id, org_id, app_id, env_id, process_type,
			mount_path, resource_version, created_at
		FROM volume_attachment_view
		WHERE volume_id = $1 ORDER BY created_at, attachment_id`, volumeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []*types.VolumeAttachment
	for rows.Next() {
		var a types.VolumeAttachment
		if err := rows.Scan(&a.AttachmentID, &a.VolumeID, &a.OrgID, &a.AppID, &a.EnvID,
			&a.ProcessType, &a.MountPath, &a.ResourceVersion, &a.CreatedAt); err != nil {
			return nil, err
		}
		attachments = append(attachments, &a)
	}
	return attachments, rows.Err()
}

// ListSnapshots returns every snapshot of one volume, oldest first
func (s *Store) ListSnapshots(ctx context.Context, volumeID string) ([]*types.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, volume_id, org_id, size_bytes, resource_version, created_at
		FROM snapshot_view WHERE volume_id = $1 ORDER BY created_at, snapshot_id`, volumeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*types.Snapshot
	for rows.Next() {
		var sn types.Snapshot
		if err := rows.Scan(&sn.SnapshotID, &sn.VolumeID, &sn.OrgID, &sn.SizeBytes,
			&sn.ResourceVersion, &sn.CreatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, &sn)
	}
	return snapshots, rows.Err()
}

// ListAttachments returns the volume attachments for one env process
func (s *Store) ListAttachments(ctx context.Context, envID, processType string) ([]*types.VolumeAttachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attachment_id, volume_id, org_id, app_id, env_id, process_type,
			mount_path, resource_version, created_at
		FROM volume_attachment_view
		WHERE env_id = $1 AND process_type = $2 ORDER BY mount_path`, envID, processType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []*types.VolumeAttachment
	for rows.Next() {
		var a types.VolumeAttachment
		if err := rows.Scan(&a.AttachmentID, &a.VolumeID, &a.OrgID, &a.AppID, &a.EnvID,
			&a.ProcessType, &a.MountPath, &a.ResourceVersion, &a.CreatedAt); err != nil {
			return nil, err
		}
		attachments = append(attachments, &a)
	}
	return attachments, rows.Err()
}

const instanceColumns = `i.instance_id, i.org_id, i.app_id, i.env_id, i.process_type,
	i.node_id, i.desired_state, i.release_id, i.deploy_id, i.secrets_version_id,
	i.overlay_ipv6, i.resources, i.spec_hash, i.generation, i.resource_version,
	i.created_at, i.updated_at, coalesce(st.status, 'booting')`

func scanInstance(scan func(dest ...interface{}) error) (*types.Instance, error) {
	var in types.Instance
	var overlay string
	var resources []byte
	err := scan(&in.InstanceID, &in.OrgID, &in.AppID, &in.EnvID, &in.ProcessType,
		&in.NodeID, &in.DesiredState, &in.ReleaseID, &in.DeployID, &in.SecretsVersionID,
		&overlay, &resources, &in.SpecHash, &in.Generation, &in.ResourceVersion,
		&in.CreatedAt, &in.UpdatedAt, &in.Status)
	if err != nil {
		return nil, err
	}
	in.OverlayIPv6 = net.ParseIP(overlay)
	if err := json.Unmarshal(resources, &in.Resources); err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *Store) queryInstances(ctx context.Context, where string, args ...interface{}) ([]*types.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+`
		FROM instance_view i
		LEFT JOIN instance_status st ON st.instance_id = i.instance_id
		`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*types.Instance
	for rows.Next() {
		in, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, in)
	}
	return instances, rows.Err()
}

// GetInstance returns one instance with its last reported status
func (s *Store) GetInstance(ctx context.Context, instanceID string) (*types.Instance, error) {
	instances, err := s.queryInstances(ctx, `WHERE i.instance_id = $1`, instanceID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("instance %s: %w", instanceID, types.ErrNotFound)
	}
	return instances[0], nil
}

// ListInstancesByEnv returns every non-stopped instance in an env
func (s *Store) ListInstancesByEnv(ctx context.Context, envID string) ([]*types.Instance, error) {
	return s.queryInstances(ctx,
		`WHERE i.env_id = $1 AND i.desired_state <> 'stopped' ORDER BY i.created_at, i.instance_id`, envID)
}

// ListInstancesByNode returns every non-stopped instance placed on a node
func (s *Store) ListInstancesByNode(ctx context.Context, nodeID string) ([]*types.Instance, error) {
	return s.queryInstances(ctx,
		`WHERE i.node_id = $1 AND i.desired_state <> 'stopped' ORDER BY i.created_at, i.instance_id`, nodeID)
}

// ListActiveInstances returns every instance the scheduler still owns
func (s *Store) ListActiveInstances(ctx context.Context) ([]*types.Instance, error) {
	return s.queryInstances(ctx,
		`WHERE i.desired_state <> 'stopped' ORDER BY i.created_at, i.instance_id`)
}

// ReadyBackends returns the overlay addresses of ready, running
// instances serving one env process. The edge targets these.
func (s *Store) ReadyBackends(ctx context.Context, envID, processType string, port int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.overlay_ipv6
		FROM instance_view i
		JOIN instance_status st ON st.instance_id = i.instance_id
		WHERE i.env_id = $1 AND i.process_type = $2
			AND i.desired_state = 'running' AND st.status = 'ready'
		ORDER BY i.instance_id`, envID, processType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backends []string
	for rows.Next() {
		var overlay string
		if err := rows.Scan(&overlay); err != nil {
			return nil, err
		}
		backends = append(backends, fmt.Sprintf("[%s]:%d", overlay, port))
	}
	return backends, rows.Err()
}

func scanNode(scan func(dest ...interface{}) error) (*types.Node, error) {
	var n types.Node
	var overlay string
	var alloc, labels []byte
	var heartbeat sql.NullTime
	err := scan(&n.NodeID, &n.State, &n.WireGuardPubKey, &overlay, &n.Arch,
		&alloc, &labels, &heartbeat, &n.ResourceVersion, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.OverlayIPv6 = net.ParseIP(overlay)
	if heartbeat.Valid {
		n.LastHeartbeat = heartbeat.Time
	}
	if err := json.Unmarshal(alloc, &n.Allocatable); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(labels, &n.Labels); err != nil {
		return nil, err
	}
	return &n, nil
}

const nodeColumns = `node_id, state, wireguard_pub_key, overlay_ipv6, arch,
	allocatable, labels, last_heartbeat, resource_version, created_at, updated_at`

// GetNode returns one node or types.ErrNotFound
func (s *Store) GetNode(ctx context.Context, nodeID string) (*types.Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM node_view WHERE node_id = $1`, nodeID)
	n, err := scanNode(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %s: %w", nodeID, types.ErrNotFound)
	}
	return n, err
}

// ListNodes returns every enrolled node ordered by id
func (s *Store) ListNodes(ctx context.Context) ([]*types.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM node_view ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*types.Node
	for rows.Next() {
		n, err := scanNode(rows.Scan)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// RecordHeartbeat updates a node's liveness and capacity directly.
// Heartbeats are too frequent to run through the event log.
func (s *Store) RecordHeartbeat(ctx context.Context, nodeID string, alloc types.NodeAllocatable, at time.Time) error {
	raw, err := json.Marshal(alloc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE node_view SET last_heartbeat = $2, allocatable = $3, updated_at = $2
		WHERE node_id = $1`, nodeID, at, raw)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("node %s: %w", nodeID, types.ErrNotFound)
	}
	return nil
}

// InsertLogLines appends forwarded workload log lines
func (s *Store) InsertLogLines(ctx context.Context, lines []*types.WorkloadLogLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, l := range lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workload_logs (org_id, app_id, env_id, instance_id, stream, line, truncated, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			l.OrgID, l.AppID, l.EnvID, l.InstanceID, l.Stream, l.Line, l.Truncated, l.Timestamp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryLogs returns recent log lines for an env, oldest first
func (s *Store) QueryLogs(ctx context.Context, envID string, since time.Time, limit int) ([]*types.WorkloadLogLine, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, app_id, env_id, instance_id, stream, line, truncated, ts
		FROM workload_logs WHERE env_id = $1 AND ts > $2
		ORDER BY ts LIMIT $3`, envID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*types.WorkloadLogLine
	for rows.Next() {
		var l types.WorkloadLogLine
		if err := rows.Scan(&l.OrgID, &l.AppID, &l.EnvID, &l.InstanceID, &l.Stream,
			&l.Line, &l.Truncated, &l.Timestamp); err != nil {
			return nil, err
		}
		lines = append(lines, &l)
	}
	return lines, rows.Err()
}
