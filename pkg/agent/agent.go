package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/nodeapi"
	"github.com/plfm/plfm/pkg/plan"
	"github.com/plfm/plfm/pkg/secrets"
	"github.com/plfm/plfm/pkg/types"
)

// ControlPlane is the subset of the node API client the agent uses
type ControlPlane interface {
	Enroll(ctx context.Context, req *nodeapi.EnrollRequest) (*nodeapi.EnrollResponse, error)
	Heartbeat(ctx context.Context, req *nodeapi.HeartbeatRequest) (*nodeapi.HeartbeatResponse, error)
	GetPlan(ctx context.Context, req *nodeapi.PlanRequest) (*nodeapi.PlanResponse, error)
	ReportInstanceStatus(ctx context.Context, req *nodeapi.InstanceStatusRequest) error
	GetSecretMaterial(ctx context.Context, req *nodeapi.SecretMaterialRequest) (*nodeapi.SecretMaterialResponse, error)
	SetToken(token string)
}

// Config sets up one node agent
type Config struct {
	DataDir           string
	SecretsDir        string
	WireGuardPubKey   string
	Arch              string
	CPUCores          float64
	MemoryBytes       int64
	EnrollToken       string
	Labels            map[string]string
	HeartbeatInterval time.Duration
}

const defaultHeartbeatInterval = 10 * time.Second

// Agent converges one node toward its control plane plan
type Agent struct {
	cp      ControlPlane
	store   *Store
	runtime Runtime
	cfg     Config

	identity    *Identity
	specVersion string
}

// New creates an agent. Call Run to start converging.
func New(cfg Config, cp ControlPlane, store *Store, runtime Runtime) *Agent {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Agent{cp: cp, store: store, runtime: runtime, cfg: cfg}
}

// Run enrolls if needed, then heartbeats and converges until ctx ends
func (a *Agent) Run(ctx context.Context) error {
	if err := a.ensureIdentity(ctx); err != nil {
		return err
	}

	logger := log.WithComponent("agent")
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if err := a.Tick(ctx); err != nil {
			logger.Warn().Err(err).Msg("tick failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// NodeID returns the enrolled node id, empty before enrollment
func (a *Agent) NodeID() string {
	if a.identity == nil {
		return ""
	}
	return a.identity.NodeID
}

func (a *Agent) ensureIdentity(ctx context.Context) error {
	id, err := a.store.LoadIdentity()
	if err != nil {
		return err
	}
	if id != nil {
		a.identity = id
		a.cp.SetToken(id.NodeToken)
		return nil
	}

	resp, err := a.cp.Enroll(ctx, &nodeapi.EnrollRequest{
		EnrollToken:     a.cfg.EnrollToken,
		WireGuardPubKey: a.cfg.WireGuardPubKey,
		Arch:            a.cfg.Arch,
		CPUCores:        a.cfg.CPUCores,
		MemoryBytes:     a.cfg.MemoryBytes,
		Labels:          a.cfg.Labels,
	})
	if err != nil {
		return fmt.Errorf("enroll: %w", err)
	}

	id = &Identity{
		NodeID:          resp.NodeID,
		OverlayIPv6:     resp.OverlayIPv6,
		NodeToken:       resp.NodeToken,
		WireGuardPubKey: a.cfg.WireGuardPubKey,
	}
	if err := a.store.SaveIdentity(id); err != nil {
		return err
	}
	a.identity = id
	a.cp.SetToken(id.NodeToken)
	logger := log.WithComponent("agent")
	logger.Info().
		Str("node_id", id.NodeID).
		Str("overlay", id.OverlayIPv6).
		Msg("enrolled")
	return nil
}

// Tick runs one heartbeat and, when the spec version moved, one
// converge pass. Exported so tests can drive the loop directly.
func (a *Agent) Tick(ctx context.Context) error {
	hb, err := a.cp.Heartbeat(ctx, &nodeapi.HeartbeatRequest{
		NodeID: a.identity.NodeID,
		Allocatable: types.NodeAllocatable{
			CPUCores:    a.cfg.CPUCores,
			MemoryBytes: a.cfg.MemoryBytes,
		},
	})
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	if hb.SpecVersion != a.specVersion {
		resp, err := a.cp.GetPlan(ctx, &nodeapi.PlanRequest{NodeID: a.identity.NodeID})
		if err != nil {
			return fmt.Errorf("get plan: %w", err)
		}
		if err := a.converge(ctx, resp.Plan); err != nil {
			return err
		}
		a.specVersion = resp.Plan.SpecVersion
	}

	return a.reportStatuses(ctx)
}

func (a *Agent) converge(ctx context.Context, p *plan.NodePlan) error {
	logger := log.WithComponent("agent")

	desired := make(map[string]*plan.Workload, len(p.Workloads))
	for i := range p.Workloads {
		desired[p.Workloads[i].InstanceID] = &p.Workloads[i]
	}

	local, err := a.store.ListWorkloads()
	if err != nil {
		return err
	}
	applied := make(map[string]*plan.Workload, len(local))
	for _, w := range local {
		applied[w.InstanceID] = w
	}

	// Anything we run that the plan no longer mentions is gone
	for id := range applied {
		if _, ok := desired[id]; ok {
			continue
		}
		if err := a.stopInstance(ctx, id, false); err != nil {
			logger.Warn().Err(err).Str("instance_id", id).Msg("stop removed instance")
		}
	}

	for id, w := range desired {
		prev := applied[id]
		switch w.DesiredState {
		case types.DesiredDraining:
			if prev != nil {
				if err := a.stopInstance(ctx, id, true); err != nil {
					logger.Warn().Err(err).Str("instance_id", id).Msg("drain instance")
				}
			}
		case types.DesiredStopped:
			if prev != nil {
				if err := a.stopInstance(ctx, id, false); err != nil {
					logger.Warn().Err(err).Str("instance_id", id).Msg("stop instance")
				}
			}
		case types.DesiredRunning:
			if prev != nil && prev.SpecHash == w.SpecHash && prev.Generation == w.Generation {
				continue
			}
			if prev != nil {
				if err := a.stopInstance(ctx, id, false); err != nil {
					logger.Warn().Err(err).Str("instance_id", id).Msg("stop before respec")
					continue
				}
			}
			if err := a.startInstance(ctx, w); err != nil {
				logger.Warn().Err(err).Str("instance_id", id).Msg("start instance")
				a.report(ctx, id, types.StatusFailed, "", nil, err.Error())
			}
		}
	}

	logger.Info().
		Str("spec_version", p.SpecVersion).
		Int("workloads", len(p.Workloads)).
		Msg("converged to plan")
	return nil
}

func (a *Agent) startInstance(ctx context.Context, w *plan.Workload) error {
	secretsPath := ""
	if w.SecretsVersionID != "" {
		path, err := a.fetchSecrets(ctx, w)
		if err != nil {
			return fmt.Errorf("secrets for %s: %w", w.InstanceID, err)
		}
		secretsPath = path
	}

	bootID, err := a.runtime.Start(ctx, w, secretsPath)
	if err != nil {
		return err
	}

	if err := a.store.PutWorkload(w); err != nil {
		return err
	}
	if err := a.store.PutBootRecord(w.InstanceID, &BootRecord{
		BootID:    bootID,
		Status:    types.StatusBooting,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	a.report(ctx, w.InstanceID, types.StatusBooting, bootID, nil, "")
	return nil
}

func (a *Agent) stopInstance(ctx context.Context, instanceID string, draining bool) error {
	if draining {
		a.report(ctx, instanceID, types.StatusDraining, "", nil, "")
	}
	if err := a.runtime.Stop(ctx, instanceID); err != nil {
		return err
	}
	a.report(ctx, instanceID, types.StatusStopped, "", nil, "")
	return a.store.DeleteWorkload(instanceID)
}

// fetchSecrets pulls and writes the env file for one workload. The
// file lands at <secretsDir>/<instanceID>/platform.env with mode 0400.
func (a *Agent) fetchSecrets(ctx context.Context, w *plan.Workload) (string, error) {
	resp, err := a.cp.GetSecretMaterial(ctx, &nodeapi.SecretMaterialRequest{
		NodeID:    a.identity.NodeID,
		EnvID:     w.EnvID,
		VersionID: w.SecretsVersionID,
	})
	if err != nil {
		return "", err
	}

	dir := filepath.Join(a.cfg.SecretsDir, w.InstanceID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "platform.env")
	if err := secrets.WriteFile(path, []byte(resp.Envelope)); err != nil {
		return "", err
	}
	return path, nil
}

// reportStatuses polls the runtime and reports transitions only
func (a *Agent) reportStatuses(ctx context.Context) error {
	workloads, err := a.store.ListWorkloads()
	if err != nil {
		return err
	}
	for _, w := range workloads {
		status, err := a.runtime.Status(ctx, w.InstanceID)
		if err != nil {
			continue
		}
		rec, err := a.store.GetBootRecord(w.InstanceID)
		if err != nil {
			return err
		}
		if rec != nil && rec.Status == status {
			continue
		}

		bootID := ""
		if rec != nil {
			bootID = rec.BootID
		}
		a.report(ctx, w.InstanceID, status, bootID, nil, "")
		if err := a.store.PutBootRecord(w.InstanceID, &BootRecord{
			BootID:    bootID,
			Status:    status,
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) report(ctx context.Context, instanceID string, status types.InstanceStatus, bootID string, exitCode *int, reason string) {
	err := a.cp.ReportInstanceStatus(ctx, &nodeapi.InstanceStatusRequest{
		NodeID:     a.identity.NodeID,
		InstanceID: instanceID,
		Status:     status,
		BootID:     bootID,
		ExitCode:   exitCode,
		Reason:     reason,
	})
	if err != nil {
		logger := log.WithComponent("agent")
		logger.Warn().Err(err).
			Str("instance_id", instanceID).
			Str("status", string(status)).
			Msg("status report failed")
	}
}
