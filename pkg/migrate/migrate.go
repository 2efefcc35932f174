package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/plfm/plfm/pkg/log"
)

// Migration is one named, ordered schema step
type Migration struct {
	Name string
	SQL  string
}

// Migrations is the ordered schema history. Append only; never edit a
// shipped entry.
var Migrations = []Migration{
	{
		Name: "001_events",
		SQL: `
CREATE TABLE IF NOT EXISTS events (
	event_id        BIGSERIAL PRIMARY KEY,
	aggregate_type  TEXT        NOT NULL,
	aggregate_id    TEXT        NOT NULL,
	aggregate_seq   BIGINT      NOT NULL,
	event_type      TEXT        NOT NULL,
	event_version   INT         NOT NULL DEFAULT 1,
	actor_type      TEXT        NOT NULL,
	actor_id        TEXT        NOT NULL,
	org_id          TEXT,
	app_id          TEXT,
	env_id          TEXT,
	request_id      TEXT        NOT NULL,
	idempotency_key TEXT,
	correlation_id  TEXT,
	causation_id    TEXT,
	occurred_at     TIMESTAMPTZ NOT NULL,
	payload         JSONB       NOT NULL,
	UNIQUE (aggregate_type, aggregate_id, aggregate_seq)
);
CREATE INDEX IF NOT EXISTS idx_events_org ON events (org_id, event_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (event_type, event_id);`,
	},
	{
		Name: "002_checkpoints",
		SQL: `
CREATE TABLE IF NOT EXISTS projection_checkpoints (
	name          TEXT PRIMARY KEY,
	last_event_id BIGINT      NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "003_idempotency",
		SQL: `
CREATE TABLE IF NOT EXISTS idempotency_records (
	org_scope       TEXT        NOT NULL,
	actor_id        TEXT        NOT NULL,
	endpoint        TEXT        NOT NULL,
	idempotency_key TEXT        NOT NULL,
	request_hash    TEXT        NOT NULL,
	status_code     INT         NOT NULL,
	body            BYTEA,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (org_scope, actor_id, endpoint, idempotency_key)
);`,
	},
	{
		Name: "004_views",
		SQL: `
CREATE TABLE IF NOT EXISTS org_view (
	org_id           TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	is_deleted       BOOLEAN NOT NULL DEFAULT false,
	resource_version BIGINT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS app_view (
	app_id           TEXT PRIMARY KEY,
	org_id           TEXT NOT NULL,
	name             TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	is_deleted       BOOLEAN NOT NULL DEFAULT false,
	resource_version BIGINT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS env_view (
	env_id             TEXT PRIMARY KEY,
	org_id             TEXT NOT NULL,
	app_id             TEXT NOT NULL,
	name               TEXT NOT NULL,
	desired_release_id TEXT NOT NULL DEFAULT '',
	desired_replicas   JSONB NOT NULL DEFAULT '{}',
	is_deleted         BOOLEAN NOT NULL DEFAULT false,
	resource_version   BIGINT NOT NULL DEFAULT 1,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS release_view (
	release_id              TEXT PRIMARY KEY,
	org_id                  TEXT NOT NULL,
	app_id                  TEXT NOT NULL,
	image_ref               TEXT NOT NULL,
	image_digest            TEXT NOT NULL,
	image_digest_by_arch    JSONB NOT NULL DEFAULT '{}',
	manifest_schema_version INT NOT NULL DEFAULT 1,
	manifest_hash           TEXT NOT NULL,
	command                 JSONB NOT NULL DEFAULT '[]',
	process_types           JSONB NOT NULL DEFAULT '{}',
	resource_version        BIGINT NOT NULL DEFAULT 1,
	created_at              TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS deploy_view (
	deploy_id        TEXT PRIMARY KEY,
	org_id           TEXT NOT NULL,
	app_id           TEXT NOT NULL,
	env_id           TEXT NOT NULL,
	release_id       TEXT NOT NULL,
	status           TEXT NOT NULL,
	resource_version BIGINT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS route_view (
	route_id               TEXT PRIMARY KEY,
	org_id                 TEXT NOT NULL,
	app_id                 TEXT NOT NULL,
	env_id                 TEXT NOT NULL,
	hostname               TEXT NOT NULL,
	listen_port            INT NOT NULL,
	backend_process_type   TEXT NOT NULL,
	backend_port           INT NOT NULL,
	protocol_hint          TEXT NOT NULL,
	proxy_protocol         TEXT NOT NULL,
	allow_non_tls_fallback BOOLEAN NOT NULL DEFAULT false,
	is_deleted             BOOLEAN NOT NULL DEFAULT false,
	resource_version       BIGINT NOT NULL DEFAULT 1,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_route_host_port
	ON route_view (hostname, listen_port) WHERE NOT is_deleted;
CREATE TABLE IF NOT EXISTS secret_bundle_view (
	version_id       TEXT PRIMARY KEY,
	bundle_id        TEXT NOT NULL,
	org_id           TEXT NOT NULL,
	app_id           TEXT NOT NULL,
	env_id           TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	ciphertext       BYTEA NOT NULL,
	resource_version BIGINT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS volume_view (
	volume_id        TEXT PRIMARY KEY,
	org_id           TEXT NOT NULL,
	app_id           TEXT NOT NULL,
	env_id           TEXT NOT NULL,
	name             TEXT NOT NULL,
	size_bytes       BIGINT NOT NULL DEFAULT 0,
	is_deleted       BOOLEAN NOT NULL DEFAULT false,
	resource_version BIGINT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS volume_attachment_view (
	attachment_id    TEXT PRIMARY KEY,
	volume_id        TEXT NOT NULL,
	org_id           TEXT NOT NULL,
	app_id           TEXT NOT NULL,
	env_id           TEXT NOT NULL,
	process_type     TEXT NOT NULL,
	mount_path       TEXT NOT NULL,
	resource_version BIGINT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_view (
	snapshot_id      TEXT PRIMARY KEY,
	volume_id        TEXT NOT NULL,
	org_id           TEXT NOT NULL,
	size_bytes       BIGINT NOT NULL DEFAULT 0,
	resource_version BIGINT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS instance_view (
	instance_id        TEXT PRIMARY KEY,
	org_id             TEXT NOT NULL,
	app_id             TEXT NOT NULL,
	env_id             TEXT NOT NULL,
	process_type       TEXT NOT NULL,
	node_id            TEXT NOT NULL,
	desired_state      TEXT NOT NULL,
	release_id         TEXT NOT NULL,
	deploy_id          TEXT NOT NULL DEFAULT '',
	secrets_version_id TEXT NOT NULL DEFAULT '',
	overlay_ipv6       TEXT NOT NULL,
	resources          JSONB NOT NULL DEFAULT '{}',
	spec_hash          TEXT NOT NULL,
	generation         BIGINT NOT NULL DEFAULT 1,
	resource_version   BIGINT NOT NULL DEFAULT 1,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_instance_overlay ON instance_view (overlay_ipv6);
CREATE TABLE IF NOT EXISTS instance_status (
	instance_id TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	boot_id     TEXT NOT NULL DEFAULT '',
	exit_code   INT,
	reason      TEXT NOT NULL DEFAULT '',
	reported_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS node_view (
	node_id           TEXT PRIMARY KEY,
	state             TEXT NOT NULL,
	wireguard_pub_key TEXT NOT NULL UNIQUE,
	overlay_ipv6      TEXT NOT NULL UNIQUE,
	arch              TEXT NOT NULL DEFAULT '',
	allocatable       JSONB NOT NULL DEFAULT '{}',
	labels            JSONB NOT NULL DEFAULT '{}',
	last_heartbeat    TIMESTAMPTZ,
	resource_version  BIGINT NOT NULL DEFAULT 1,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);`,
	},
	{
		Name: "005_sequences",
		SQL: `
CREATE SEQUENCE IF NOT EXISTS node_overlay_suffix START 1;
CREATE SEQUENCE IF NOT EXISTS instance_overlay_suffix START 1;`,
	},
	{
		Name: "006_workload_logs",
		SQL: `
CREATE TABLE IF NOT EXISTS workload_logs (
	id          BIGSERIAL PRIMARY KEY,
	org_id      TEXT NOT NULL,
	app_id      TEXT NOT NULL,
	env_id      TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	stream      TEXT NOT NULL,
	line        TEXT NOT NULL,
	truncated   BOOLEAN NOT NULL DEFAULT false,
	ts          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workload_logs_env ON workload_logs (org_id, app_id, env_id, ts);`,
	},
	{
		Name: "007_auth",
		SQL: `
CREATE TABLE IF NOT EXISTS access_tokens (
	token_hash   TEXT PRIMARY KEY,
	actor_type   TEXT NOT NULL,
	actor_id     TEXT NOT NULL,
	org_id       TEXT NOT NULL,
	role         TEXT NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	revoked_at   TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS device_authorizations (
	device_code  TEXT PRIMARY KEY,
	user_code    TEXT NOT NULL UNIQUE,
	approved_by  TEXT,
	expires_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS org_quotas (
	org_id    TEXT NOT NULL,
	dimension TEXT NOT NULL,
	max_limit BIGINT NOT NULL,
	PRIMARY KEY (org_id, dimension)
);
CREATE TABLE IF NOT EXISTS quota_usage (
	org_id    TEXT NOT NULL,
	dimension TEXT NOT NULL,
	usage     BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (org_id, dimension)
);`,
	},
	{
		Name: "008_ipv4",
		SQL: `
CREATE TABLE IF NOT EXISTS ipv4_pool (
	address        TEXT PRIMARY KEY,
	claimed_by_env TEXT,
	claimed_at     TIMESTAMPTZ
);
ALTER TABLE env_view ADD COLUMN IF NOT EXISTS dedicated_ipv4 TEXT NOT NULL DEFAULT '';`,
	},
}

// Run applies all pending migrations in order, recording each in
// schema_migrations.
func Run(ctx context.Context, db *sql.DB) error {
	logger := log.WithComponent("migrate")

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range Migrations {
		var exists bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, m.Name).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Name, err)
		}

		logger.Info().Str("migration", m.Name).Msg("applied")
	}

	return nil
}
