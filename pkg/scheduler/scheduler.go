package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/command"
	"github.com/plfm/plfm/pkg/eventlog"
	"github.com/plfm/plfm/pkg/ipam"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/metrics"
	"github.com/plfm/plfm/pkg/spechash"
	"github.com/plfm/plfm/pkg/types"
	"github.com/plfm/plfm/pkg/views"
)

// Scheduler converges placement toward the declared state. It is the
// only writer of instance.allocated and instance.desired_state_changed.
type Scheduler struct {
	events   *eventlog.Store
	views    *views.Store
	commands *command.Service
	alloc    *ipam.Allocator
	interval time.Duration
	retries  *retryTracker
}

// New creates a scheduler
func New(events *eventlog.Store, vs *views.Store, commands *command.Service, alloc *ipam.Allocator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		events:   events,
		views:    vs,
		commands: commands,
		alloc:    alloc,
		interval: interval,
		retries:  newRetryTracker(defaultRetryWindow, defaultRetryLimit),
	}
}

// Run reconciles on a fixed interval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	logger := log.WithComponent("scheduler")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := s.Reconcile(ctx); err != nil {
				logger.Error().Err(err).Msg("reconcile pass failed")
			}
			metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// group is one (env, process type) reconciliation unit
type group struct {
	env         *types.Env
	release     *types.Release
	processType string
	spec        *types.ProcessSpec
	replicas    int
	specHash    string
	secretsVer  string
	deployID    string
	mounts      map[string]string
}

// Reconcile runs one full pass: converge every env process group, then
// drain orphans and instances on unschedulable nodes.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	logger := log.WithComponent("scheduler")

	envs, err := s.views.ListLiveEnvs(ctx)
	if err != nil {
		return fmt.Errorf("list envs: %w", err)
	}
	nodes, err := s.views.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	instances, err := s.views.ListActiveInstances(ctx)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}

	loads := buildLoads(nodes, instances)
	liveEnvs := make(map[string]bool, len(envs))
	unschedulable := make(map[string]bool)
	for _, n := range nodes {
		if n.State != types.NodeActive {
			unschedulable[n.NodeID] = true
		}
	}

	byGroup := make(map[string][]*types.Instance)
	for _, in := range instances {
		key := in.EnvID + "/" + in.ProcessType
		byGroup[key] = append(byGroup[key], in)
	}

	for _, env := range envs {
		liveEnvs[env.EnvID] = true
		if env.DesiredReleaseID == "" {
			continue
		}

		groups, err := s.buildGroups(ctx, env)
		if err != nil {
			logger.Error().Err(err).Str("env_id", env.EnvID).Msg("skipping env")
			continue
		}

		converged := true
		failed := false
		for _, g := range groups {
			done, err := s.reconcileGroup(ctx, g, byGroup[g.env.EnvID+"/"+g.processType], loads, unschedulable)
			if err != nil {
				logger.Error().Err(err).
					Str("env_id", g.env.EnvID).
					Str("process_type", g.processType).
					Msg("group reconcile failed")
				converged = false
				if s.retries.Exhausted(g.env.EnvID + "/" + g.processType) {
					failed = true
				}
				continue
			}
			if !done {
				converged = false
			}
		}

		if err := s.advanceDeploy(ctx, env, converged, failed); err != nil {
			logger.Error().Err(err).Str("env_id", env.EnvID).Msg("deploy status update failed")
		}
	}

	s.drainOrphans(ctx, instances, liveEnvs)
	return nil
}

// buildGroups resolves the desired state of every process in an env
func (s *Scheduler) buildGroups(ctx context.Context, env *types.Env) ([]*group, error) {
	release, err := s.views.GetRelease(ctx, env.DesiredReleaseID)
	if err != nil {
		return nil, err
	}

	secretsVer := ""
	if bundle, err := s.views.LatestSecretVersion(ctx, env.EnvID); err != nil {
		return nil, err
	} else if bundle != nil {
		secretsVer = bundle.VersionID
	}

	deployID := ""
	if deploy, err := s.views.ActiveDeploy(ctx, env.EnvID); err != nil {
		return nil, err
	} else if deploy != nil {
		deployID = deploy.DeployID
	}

	names := make([]string, 0, len(release.ProcessTypes))
	for name := range release.ProcessTypes {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]*group, 0, len(names))
	for _, name := range names {
		spec := release.ProcessTypes[name]
		replicas, ok := env.DesiredReplicas[name]
		if !ok {
			replicas = 1
		}

		attachments, err := s.views.ListAttachments(ctx, env.EnvID, name)
		if err != nil {
			return nil, err
		}
		mounts := make(map[string]string, len(attachments))
		for _, a := range attachments {
			mounts[a.VolumeID] = a.MountPath
		}
		if len(mounts) > 0 && replicas > 1 {
			// volume-backed processes run exactly one replica
			logger := log.WithComponent("scheduler")
			logger.Warn().
				Str("env_id", env.EnvID).
				Str("process_type", name).
				Int("requested", replicas).
				Msg("clamping volume-backed process to 1 replica")
			replicas = 1
		}

		groups = append(groups, &group{
			env:         env,
			release:     release,
			processType: name,
			spec:        spec,
			replicas:    replicas,
			secretsVer:  secretsVer,
			deployID:    deployID,
			mounts:      mounts,
			specHash: spechash.Compute(spechash.Inputs{
				ReleaseID:        release.ReleaseID,
				ProcessType:      name,
				SecretsVersionID: secretsVer,
				VolumeMounts:     mounts,
			}),
		})
	}
	return groups, nil
}

// reconcileGroup converges one group and reports whether it is done
func (s *Scheduler) reconcileGroup(ctx context.Context, g *group, existing []*types.Instance, loads map[string]*nodeLoad, unschedulable map[string]bool) (bool, error) {
	key := g.env.EnvID + "/" + g.processType
	if s.retries.Exhausted(key) {
		metrics.RetryExhausted.WithLabelValues("placement").Inc()
		return false, fmt.Errorf("retry budget exhausted for %s", key)
	}

	var current, old []*types.Instance
	readyCurrent := 0
	for _, in := range existing {
		onGoodNode := !unschedulable[in.NodeID]
		if in.SpecHash == g.specHash && in.DesiredState == types.DesiredRunning && onGoodNode {
			current = append(current, in)
			if in.Status == types.StatusReady {
				readyCurrent++
			}
			continue
		}
		if in.DesiredState == types.DesiredRunning {
			old = append(old, in)
		}
	}

	// release fully stopped instances from the draining set
	for _, in := range existing {
		if in.DesiredState == types.DesiredDraining && in.Status == types.StatusStopped {
			if err := s.setDesiredState(ctx, in, types.DesiredStopped, "drain complete"); err != nil {
				return false, err
			}
		}
	}

	// surplus on the current spec drains oldest-first
	if len(current) > g.replicas {
		sort.Slice(current, func(i, j int) bool {
			if !current[i].CreatedAt.Equal(current[j].CreatedAt) {
				return current[i].CreatedAt.Before(current[j].CreatedAt)
			}
			return current[i].InstanceID < current[j].InstanceID
		})
		for _, in := range current[:len(current)-g.replicas] {
			if err := s.setDesiredState(ctx, in, types.DesiredDraining, "scale down"); err != nil {
				return false, err
			}
			metrics.InstancesDrained.Inc()
		}
		return false, nil
	}

	step := PlanRollout(StrategyImmediate, g.replicas, len(current), readyCurrent, len(old))

	for i := 0; i < step.CreateNew; i++ {
		if err := s.placeInstance(ctx, g, loads); err != nil {
			s.retries.Record(key)
			metrics.PlacementFailures.WithLabelValues(failureReason(err)).Inc()
			return false, err
		}
	}
	if step.CreateNew > 0 {
		s.retries.Reset(key)
	}

	if step.DrainOld > 0 {
		sort.Slice(old, func(i, j int) bool {
			if !old[i].CreatedAt.Equal(old[j].CreatedAt) {
				return old[i].CreatedAt.Before(old[j].CreatedAt)
			}
			return old[i].InstanceID < old[j].InstanceID
		})
		for _, in := range old[:minInt(step.DrainOld, len(old))] {
			if err := s.setDesiredState(ctx, in, types.DesiredDraining, "replaced by new spec"); err != nil {
				return false, err
			}
			metrics.InstancesDrained.Inc()
		}
	}

	done := len(current) == g.replicas && readyCurrent == g.replicas && len(old) == 0 && step.CreateNew == 0
	return done, nil
}

// placeInstance allocates an overlay address, picks a node and appends
// instance.allocated.
func (s *Scheduler) placeInstance(ctx context.Context, g *group, loads map[string]*nodeLoad) error {
	cpu := g.spec.CPUCores
	mem := g.spec.MemoryBytes
	if cpu == 0 {
		cpu = 0.25
	}
	if mem == 0 {
		mem = 256 << 20
	}

	load, err := pickNode(loads, cpu, mem)
	if err != nil {
		return err
	}

	overlay, err := s.alloc.Allocate()
	if err != nil {
		return err
	}

	instanceID := uuid.New().String()
	_, err = s.events.Append(ctx, &types.Event{
		AggregateType: types.AggregateInstance,
		AggregateID:   instanceID,
		AggregateSeq:  1,
		EventType:     "instance.allocated",
		ActorType:     types.ActorSystem,
		ActorID:       "scheduler",
		OrgID:         g.env.OrgID,
		AppID:         g.env.AppID,
		EnvID:         g.env.EnvID,
		RequestID:     uuid.New().String(),
		Payload: mustJSON(map[string]interface{}{
			"instanceId":       instanceID,
			"orgId":            g.env.OrgID,
			"appId":            g.env.AppID,
			"envId":            g.env.EnvID,
			"nodeId":           load.node.NodeID,
			"processType":      g.processType,
			"releaseId":        g.release.ReleaseID,
			"deployId":         g.deployID,
			"secretsVersionId": g.secretsVer,
			"overlayIpv6":      overlay.String(),
			"resourcesSnapshot": types.ResourceSnapshot{
				CPUCores:    cpu,
				MemoryBytes: mem,
			},
			"specHash": g.specHash,
		}),
	})
	if err != nil {
		return fmt.Errorf("append instance.allocated: %w", err)
	}

	load.charge(cpu, mem)
	metrics.InstancesAllocated.Inc()
	metrics.EventsAppended.WithLabelValues("instance.allocated").Inc()

	logger := log.WithComponent("scheduler")
	logger.Info().
		Str("instance_id", instanceID).
		Str("env_id", g.env.EnvID).
		Str("process_type", g.processType).
		Str("node_id", load.node.NodeID).
		Str("spec_hash", g.specHash).
		Msg("instance placed")
	return nil
}

// setDesiredState appends instance.desired_state_changed
func (s *Scheduler) setDesiredState(ctx context.Context, in *types.Instance, state types.DesiredState, reason string) error {
	if in.DesiredState == state {
		return nil
	}
	seq, err := s.events.LatestAggregateSeq(ctx, types.AggregateInstance, in.InstanceID)
	if err != nil {
		return err
	}
	_, err = s.events.Append(ctx, &types.Event{
		AggregateType: types.AggregateInstance,
		AggregateID:   in.InstanceID,
		AggregateSeq:  seq + 1,
		EventType:     "instance.desired_state_changed",
		ActorType:     types.ActorSystem,
		ActorID:       "scheduler",
		OrgID:         in.OrgID,
		AppID:         in.AppID,
		EnvID:         in.EnvID,
		RequestID:     uuid.New().String(),
		Payload: mustJSON(map[string]interface{}{
			"desiredState": state,
			"reason":       reason,
		}),
	})
	if err != nil {
		return fmt.Errorf("append desired_state_changed for %s: %w", in.InstanceID, err)
	}
	metrics.EventsAppended.WithLabelValues("instance.desired_state_changed").Inc()
	return nil
}

// advanceDeploy moves the env's in-flight deploy through its lifecycle
func (s *Scheduler) advanceDeploy(ctx context.Context, env *types.Env, converged, failed bool) error {
	deploy, err := s.views.ActiveDeploy(ctx, env.EnvID)
	if err != nil || deploy == nil {
		return err
	}

	caller := command.SystemCaller("scheduler", uuid.New().String())
	switch {
	case failed:
		_, err = s.commands.SetDeployStatus(ctx, caller, deploy.DeployID, types.DeployFailed, "placement retries exhausted")
	case converged:
		_, err = s.commands.SetDeployStatus(ctx, caller, deploy.DeployID, types.DeploySucceeded, "")
	case deploy.Status == types.DeployPending:
		_, err = s.commands.SetDeployStatus(ctx, caller, deploy.DeployID, types.DeployRolling, "")
	}
	return err
}

// drainOrphans drains instances whose env no longer exists
func (s *Scheduler) drainOrphans(ctx context.Context, instances []*types.Instance, liveEnvs map[string]bool) {
	logger := log.WithComponent("scheduler")
	for _, in := range instances {
		if liveEnvs[in.EnvID] || in.DesiredState != types.DesiredRunning {
			continue
		}
		if err := s.setDesiredState(ctx, in, types.DesiredDraining, "env deleted"); err != nil {
			logger.Error().Err(err).Str("instance_id", in.InstanceID).Msg("orphan drain failed")
			continue
		}
		metrics.InstancesDrained.Inc()
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, types.ErrNoEligibleNodes):
		return "no_eligible_nodes"
	case errors.Is(err, types.ErrIPv4PoolExhausted):
		return "address_pool"
	default:
		return "other"
	}
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
