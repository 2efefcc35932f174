package nodeapi

import (
	"github.com/plfm/plfm/pkg/plan"
	"github.com/plfm/plfm/pkg/types"
)

// EnrollRequest registers a worker node. EnrollToken is the shared
// bootstrap secret; everything after enrollment uses the per-node token.
type EnrollRequest struct {
	EnrollToken     string            `json:"enrollToken"`
	WireGuardPubKey string            `json:"wireguardPubKey"`
	Arch            string            `json:"arch"`
	CPUCores        float64           `json:"cpuCores"`
	MemoryBytes     int64             `json:"memoryBytes"`
	Labels          map[string]string `json:"labels,omitempty"`
}

// EnrollResponse carries the node's assigned identity and credentials
type EnrollResponse struct {
	NodeID      string `json:"nodeId"`
	OverlayIPv6 string `json:"overlayIpv6"`
	NodeToken   string `json:"nodeToken"`
}

// HeartbeatRequest reports liveness and current available capacity
type HeartbeatRequest struct {
	NodeID      string                `json:"nodeId"`
	Allocatable types.NodeAllocatable `json:"allocatable"`
}

// HeartbeatResponse tells the agent which spec version the control
// plane currently wants, so it only fetches the full plan on change.
type HeartbeatResponse struct {
	SpecVersion string `json:"specVersion"`
}

// PlanRequest asks for the node's full desired workload set
type PlanRequest struct {
	NodeID string `json:"nodeId"`
}

// PlanResponse wraps one node plan
type PlanResponse struct {
	Plan *plan.NodePlan `json:"plan"`
}

// InstanceStatusRequest reports one instance lifecycle observation
type InstanceStatusRequest struct {
	NodeID     string               `json:"nodeId"`
	InstanceID string               `json:"instanceId"`
	Status     types.InstanceStatus `json:"status"`
	BootID     string               `json:"bootId,omitempty"`
	ExitCode   *int                 `json:"exitCode,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

// SecretMaterialRequest fetches decrypted secret material for one env.
// VersionID pins the exact version the plan referenced.
type SecretMaterialRequest struct {
	NodeID    string `json:"nodeId"`
	EnvID     string `json:"envId"`
	VersionID string `json:"versionId"`
}

// SecretMaterialResponse carries a rendered plaintext envelope. The
// transport between control plane and node is the overlay; nothing
// here ever hits a log.
type SecretMaterialResponse struct {
	VersionID   string `json:"versionId"`
	ContentHash string `json:"contentHash"`
	Envelope    string `json:"envelope"`
}

// LogBatch is one client-stream frame of workload log lines
type LogBatch struct {
	NodeID string                   `json:"nodeId"`
	Lines  []*types.WorkloadLogLine `json:"lines"`
}

// LogAck closes a log stream with the number of accepted lines
type LogAck struct {
	Accepted int `json:"accepted"`
}

// Ack is the empty success response
type Ack struct{}
