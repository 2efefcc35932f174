package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/nodeapi"
	"github.com/plfm/plfm/pkg/plan"
	"github.com/plfm/plfm/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type statusReport struct {
	InstanceID string
	Status     types.InstanceStatus
}

type fakeCP struct {
	enrolls     int
	plans       int
	specVersion string
	plan        *nodeapi.PlanResponse
	reports     []statusReport
	token       string
	envelope    string
}

func (f *fakeCP) Enroll(ctx context.Context, req *nodeapi.EnrollRequest) (*nodeapi.EnrollResponse, error) {
	f.enrolls++
	return &nodeapi.EnrollResponse{NodeID: "node_1", OverlayIPv6: "fd00:0:0:1::2", NodeToken: "tok"}, nil
}

func (f *fakeCP) Heartbeat(ctx context.Context, req *nodeapi.HeartbeatRequest) (*nodeapi.HeartbeatResponse, error) {
	return &nodeapi.HeartbeatResponse{SpecVersion: f.specVersion}, nil
}

func (f *fakeCP) GetPlan(ctx context.Context, req *nodeapi.PlanRequest) (*nodeapi.PlanResponse, error) {
	f.plans++
	return f.plan, nil
}

func (f *fakeCP) ReportInstanceStatus(ctx context.Context, req *nodeapi.InstanceStatusRequest) error {
	f.reports = append(f.reports, statusReport{InstanceID: req.InstanceID, Status: req.Status})
	return nil
}

func (f *fakeCP) GetSecretMaterial(ctx context.Context, req *nodeapi.SecretMaterialRequest) (*nodeapi.SecretMaterialResponse, error) {
	return &nodeapi.SecretMaterialResponse{VersionID: req.VersionID, Envelope: f.envelope}, nil
}

func (f *fakeCP) SetToken(token string) { f.token = token }

type fakeRuntime struct {
	started []string
	stopped []string
	status  map[string]types.InstanceStatus
	boots   int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{status: map[string]types.InstanceStatus{}}
}

func (r *fakeRuntime) Start(ctx context.Context, w *plan.Workload, secretsPath string) (string, error) {
	r.started = append(r.started, w.InstanceID)
	r.status[w.InstanceID] = types.StatusBooting
	r.boots++
	return fmt.Sprintf("boot-%d", r.boots), nil
}

func (r *fakeRuntime) Stop(ctx context.Context, instanceID string) error {
	r.stopped = append(r.stopped, instanceID)
	delete(r.status, instanceID)
	return nil
}

func (r *fakeRuntime) Status(ctx context.Context, instanceID string) (types.InstanceStatus, error) {
	st, ok := r.status[instanceID]
	if !ok {
		return types.StatusStopped, nil
	}
	return st, nil
}

func testPlan(version string, workloads ...plan.Workload) *nodeapi.PlanResponse {
	return &nodeapi.PlanResponse{Plan: &plan.NodePlan{
		PlanID:      "node_1:" + version,
		NodeID:      "node_1",
		SpecVersion: version,
		Workloads:   workloads,
	}}
}

func runningWorkload(id, specHash string) plan.Workload {
	return plan.Workload{
		InstanceID:   id,
		EnvID:        "env_1",
		ProcessType:  "web",
		DesiredState: types.DesiredRunning,
		SpecHash:     specHash,
		Generation:   1,
	}
}

func newTestAgent(t *testing.T, cp *fakeCP, rt Runtime) *Agent {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	a := New(Config{
		SecretsDir:      t.TempDir(),
		WireGuardPubKey: "wg-pub",
		Arch:            "arm64",
		CPUCores:        4,
		MemoryBytes:     8 << 30,
		EnrollToken:     "bootstrap",
	}, cp, store, rt)
	require.NoError(t, a.ensureIdentity(context.Background()))
	return a
}

func TestEnrollOnceAndPersist(t *testing.T) {
	dir := t.TempDir()
	cp := &fakeCP{}

	store, err := NewStore(dir)
	require.NoError(t, err)
	a := New(Config{EnrollToken: "bootstrap"}, cp, store, newFakeRuntime())
	require.NoError(t, a.ensureIdentity(context.Background()))
	assert.Equal(t, 1, cp.enrolls)
	assert.Equal(t, "node_1", a.NodeID())
	assert.Equal(t, "tok", cp.token)
	require.NoError(t, store.Close())

	// Restart: identity comes from disk, no second enrollment
	store2, err := NewStore(dir)
	require.NoError(t, err)
	defer store2.Close()
	a2 := New(Config{EnrollToken: "bootstrap"}, cp, store2, newFakeRuntime())
	require.NoError(t, a2.ensureIdentity(context.Background()))
	assert.Equal(t, 1, cp.enrolls)
	assert.Equal(t, "node_1", a2.NodeID())
}

func TestTickStartsDesiredWorkloads(t *testing.T) {
	cp := &fakeCP{specVersion: "v1", plan: testPlan("v1", runningWorkload("inst_1", "h1"))}
	rt := newFakeRuntime()
	a := newTestAgent(t, cp, rt)

	require.NoError(t, a.Tick(context.Background()))

	assert.Equal(t, []string{"inst_1"}, rt.started)
	require.NotEmpty(t, cp.reports)
	assert.Equal(t, statusReport{"inst_1", types.StatusBooting}, cp.reports[0])
}

func TestTickSkipsPlanWhenVersionUnchanged(t *testing.T) {
	cp := &fakeCP{specVersion: "v1", plan: testPlan("v1", runningWorkload("inst_1", "h1"))}
	rt := newFakeRuntime()
	a := newTestAgent(t, cp, rt)

	require.NoError(t, a.Tick(context.Background()))
	require.NoError(t, a.Tick(context.Background()))
	assert.Equal(t, 1, cp.plans)
	assert.Equal(t, []string{"inst_1"}, rt.started)
}

func TestConvergeStopsRemovedInstances(t *testing.T) {
	cp := &fakeCP{specVersion: "v1", plan: testPlan("v1", runningWorkload("inst_1", "h1"))}
	rt := newFakeRuntime()
	a := newTestAgent(t, cp, rt)
	require.NoError(t, a.Tick(context.Background()))

	cp.specVersion = "v2"
	cp.plan = testPlan("v2")
	require.NoError(t, a.Tick(context.Background()))

	assert.Equal(t, []string{"inst_1"}, rt.stopped)
	workloads, err := a.store.ListWorkloads()
	require.NoError(t, err)
	assert.Empty(t, workloads)
}

func TestConvergeRestartsOnSpecChange(t *testing.T) {
	cp := &fakeCP{specVersion: "v1", plan: testPlan("v1", runningWorkload("inst_1", "h1"))}
	rt := newFakeRuntime()
	a := newTestAgent(t, cp, rt)
	require.NoError(t, a.Tick(context.Background()))

	respec := runningWorkload("inst_1", "h2")
	cp.specVersion = "v2"
	cp.plan = testPlan("v2", respec)
	require.NoError(t, a.Tick(context.Background()))

	assert.Equal(t, []string{"inst_1"}, rt.stopped)
	assert.Equal(t, []string{"inst_1", "inst_1"}, rt.started)
}

func TestConvergeSameGenerationNoRestart(t *testing.T) {
	cp := &fakeCP{specVersion: "v1", plan: testPlan("v1", runningWorkload("inst_1", "h1"))}
	rt := newFakeRuntime()
	a := newTestAgent(t, cp, rt)
	require.NoError(t, a.Tick(context.Background()))

	// same spec hash, same generation: plan churn must not bounce the
	// workload
	cp.specVersion = "v2"
	cp.plan = testPlan("v2", runningWorkload("inst_1", "h1"))
	require.NoError(t, a.Tick(context.Background()))

	assert.Empty(t, rt.stopped)
	assert.Equal(t, []string{"inst_1"}, rt.started)
}

func TestConvergeRestartsOnGenerationBump(t *testing.T) {
	cp := &fakeCP{specVersion: "v1", plan: testPlan("v1", runningWorkload("inst_1", "h1"))}
	rt := newFakeRuntime()
	a := newTestAgent(t, cp, rt)
	require.NoError(t, a.Tick(context.Background()))

	bumped := runningWorkload("inst_1", "h1")
	bumped.Generation = 2
	cp.specVersion = "v2"
	cp.plan = testPlan("v2", bumped)
	require.NoError(t, a.Tick(context.Background()))

	assert.Equal(t, []string{"inst_1"}, rt.stopped)
	assert.Equal(t, []string{"inst_1", "inst_1"}, rt.started)
}

func TestConvergeDrainReportsDrainingThenStopped(t *testing.T) {
	cp := &fakeCP{specVersion: "v1", plan: testPlan("v1", runningWorkload("inst_1", "h1"))}
	rt := newFakeRuntime()
	a := newTestAgent(t, cp, rt)
	require.NoError(t, a.Tick(context.Background()))

	draining := runningWorkload("inst_1", "h1")
	draining.DesiredState = types.DesiredDraining
	cp.specVersion = "v2"
	cp.plan = testPlan("v2", draining)
	cp.reports = nil
	require.NoError(t, a.Tick(context.Background()))

	require.GreaterOrEqual(t, len(cp.reports), 2)
	assert.Equal(t, statusReport{"inst_1", types.StatusDraining}, cp.reports[0])
	assert.Equal(t, statusReport{"inst_1", types.StatusStopped}, cp.reports[1])
}

func TestReportStatusesOnlyOnTransition(t *testing.T) {
	cp := &fakeCP{specVersion: "v1", plan: testPlan("v1", runningWorkload("inst_1", "h1"))}
	rt := newFakeRuntime()
	a := newTestAgent(t, cp, rt)
	require.NoError(t, a.Tick(context.Background()))

	// Booting already reported at start. A same-status tick is silent.
	cp.reports = nil
	require.NoError(t, a.Tick(context.Background()))
	assert.Empty(t, cp.reports)

	rt.status["inst_1"] = types.StatusReady
	require.NoError(t, a.Tick(context.Background()))
	require.Len(t, cp.reports, 1)
	assert.Equal(t, statusReport{"inst_1", types.StatusReady}, cp.reports[0])

	cp.reports = nil
	require.NoError(t, a.Tick(context.Background()))
	assert.Empty(t, cp.reports)
}

func TestSecretsWrittenBeforeStart(t *testing.T) {
	w := runningWorkload("inst_1", "h1")
	w.SecretsVersionID = "sv_1"
	cp := &fakeCP{
		specVersion: "v1",
		plan:        testPlan("v1", w),
		envelope:    "# plfm-secrets v1\nDB_URL=postgres://x\n",
	}
	rt := newFakeRuntime()
	a := newTestAgent(t, cp, rt)

	require.NoError(t, a.Tick(context.Background()))

	path := a.cfg.SecretsDir + "/inst_1/platform.env"
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cp.envelope, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0400), info.Mode().Perm())
}

func TestStoreWorkloadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	w := runningWorkload("inst_9", "h9")
	require.NoError(t, store.PutWorkload(&w))

	got, err := store.GetWorkload("inst_9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h9", got.SpecHash)

	list, err := store.ListWorkloads()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteWorkload("inst_9"))
	got, err = store.GetWorkload("inst_9")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreIdentityNilBeforeEnroll(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	id, err := store.LoadIdentity()
	require.NoError(t, err)
	assert.Nil(t, id)
}
