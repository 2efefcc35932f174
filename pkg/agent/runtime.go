package agent

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/plan"
	"github.com/plfm/plfm/pkg/types"
)

// Runtime runs workloads on the node. Start returns a boot id that
// changes every time the instance is (re)started.
type Runtime interface {
	Start(ctx context.Context, w *plan.Workload, secretsPath string) (bootID string, err error)
	Stop(ctx context.Context, instanceID string) error
	Status(ctx context.Context, instanceID string) (types.InstanceStatus, error)
}

type procState struct {
	cmd      *exec.Cmd
	bootID   string
	exited   chan struct{}
	exitCode int
}

// ProcessRuntime runs workload commands as host processes. It stands in
// for a VM runtime on development nodes; the converge loop only sees
// the Runtime interface.
type ProcessRuntime struct {
	mu    sync.Mutex
	procs map[string]*procState
}

// NewProcessRuntime creates an empty process runtime
func NewProcessRuntime() *ProcessRuntime {
	return &ProcessRuntime{procs: make(map[string]*procState)}
}

// Start launches the workload command with its secrets file path in env
func (r *ProcessRuntime) Start(ctx context.Context, w *plan.Workload, secretsPath string) (string, error) {
	if len(w.Command) == 0 {
		return "", fmt.Errorf("workload %s has no command", w.InstanceID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[w.InstanceID]; ok {
		return "", fmt.Errorf("instance %s already running", w.InstanceID)
	}

	cmd := exec.Command(w.Command[0], w.Command[1:]...)
	cmd.Env = append(cmd.Environ(),
		"PLFM_INSTANCE_ID="+w.InstanceID,
		"PLFM_SECRETS_FILE="+secretsPath,
		fmt.Sprintf("PORT=%d", w.Port),
	)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", w.InstanceID, err)
	}

	st := &procState{cmd: cmd, bootID: uuid.NewString(), exited: make(chan struct{})}
	r.procs[w.InstanceID] = st

	go func() {
		err := cmd.Wait()
		st.exitCode = cmd.ProcessState.ExitCode()
		if err != nil {
			logger := log.WithComponent("agent")
			logger.Warn().
				Str("instance_id", w.InstanceID).
				Int("exit_code", st.exitCode).
				Msg("workload exited")
		}
		close(st.exited)
	}()

	return st.bootID, nil
}

// Stop kills the workload process if it is still running
func (r *ProcessRuntime) Stop(ctx context.Context, instanceID string) error {
	r.mu.Lock()
	st, ok := r.procs[instanceID]
	delete(r.procs, instanceID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-st.exited:
		return nil
	default:
	}
	if err := st.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill %s: %w", instanceID, err)
	}
	<-st.exited
	return nil
}

// Status reports the process state as an instance status
func (r *ProcessRuntime) Status(ctx context.Context, instanceID string) (types.InstanceStatus, error) {
	r.mu.Lock()
	st, ok := r.procs[instanceID]
	r.mu.Unlock()
	if !ok {
		return types.StatusStopped, nil
	}

	select {
	case <-st.exited:
		if st.exitCode == 0 {
			return types.StatusStopped, nil
		}
		return types.StatusFailed, nil
	default:
		return types.StatusReady, nil
	}
}
