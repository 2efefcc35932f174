package plan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/plfm/plfm/pkg/eventlog"
	"github.com/plfm/plfm/pkg/types"
	"github.com/plfm/plfm/pkg/views"
)

// Mount is one volume binding inside a workload, sorted by path in the
// plan so the encoding is stable.
type Mount struct {
	VolumeID  string `json:"volumeId"`
	MountPath string `json:"mountPath"`
}

// Workload is everything a node agent needs to run one instance
type Workload struct {
	InstanceID       string             `json:"instanceId"`
	EnvID            string             `json:"envId"`
	ProcessType      string             `json:"processType"`
	ReleaseID        string             `json:"releaseId"`
	ImageRef         string             `json:"imageRef"`
	ImageDigest      string             `json:"imageDigest"`
	Command          []string           `json:"command,omitempty"`
	DesiredState     types.DesiredState `json:"desiredState"`
	OverlayIPv6      string             `json:"overlayIpv6"`
	SecretsVersionID string             `json:"secretsVersionId,omitempty"`
	CPUCores         float64            `json:"cpuCores"`
	MemoryBytes      int64              `json:"memoryBytes"`
	Port             int                `json:"port,omitempty"`
	Mounts           []Mount            `json:"mounts,omitempty"`
	SpecHash         string             `json:"specHash"`
	Generation       int64              `json:"generation"`
}

// NodePlan is the full desired state for one node. SpecVersion changes
// exactly when the workload content changes; Cursor is the event id the
// plan was synthesized at.
type NodePlan struct {
	PlanID      string     `json:"planId"`
	NodeID      string     `json:"nodeId"`
	SpecVersion string     `json:"specVersion"`
	Cursor      int64      `json:"cursor"`
	GeneratedAt time.Time  `json:"generatedAt"`
	Workloads   []Workload `json:"workloads"`
}

// Builder synthesizes node plans from the read views
type Builder struct {
	views  *views.Store
	events *eventlog.Store
}

// NewBuilder creates a plan builder
func NewBuilder(vs *views.Store, events *eventlog.Store) *Builder {
	return &Builder{views: vs, events: events}
}

// Build produces the current plan for one node
func (b *Builder) Build(ctx context.Context, nodeID string) (*NodePlan, error) {
	node, err := b.views.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	instances, err := b.views.ListInstancesByNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	cursor, err := b.events.MaxEventID(ctx)
	if err != nil {
		return nil, err
	}

	workloads := make([]Workload, 0, len(instances))
	for _, in := range instances {
		release, err := b.views.GetRelease(ctx, in.ReleaseID)
		if err != nil {
			return nil, fmt.Errorf("workload %s: %w", in.InstanceID, err)
		}
		attachments, err := b.views.ListAttachments(ctx, in.EnvID, in.ProcessType)
		if err != nil {
			return nil, fmt.Errorf("workload %s mounts: %w", in.InstanceID, err)
		}
		workloads = append(workloads, BuildWorkload(release, in, node.Arch, attachments))
	}

	sort.Slice(workloads, func(i, j int) bool {
		return workloads[i].InstanceID < workloads[j].InstanceID
	})

	specVersion, err := SpecVersion(workloads)
	if err != nil {
		return nil, err
	}

	return &NodePlan{
		PlanID:      nodeID + ":" + specVersion,
		NodeID:      nodeID,
		SpecVersion: specVersion,
		Cursor:      cursor,
		GeneratedAt: time.Now().UTC(),
		Workloads:   workloads,
	}, nil
}

// BuildWorkload resolves one instance into its runnable form. The image
// digest prefers the node's arch entry and falls back to the release
// default.
func BuildWorkload(release *types.Release, in *types.Instance, arch string, attachments []*types.VolumeAttachment) Workload {
	digest := release.ImageDigest
	if archDigest, ok := release.ImageDigestByArch[arch]; ok && archDigest != "" {
		digest = archDigest
	}

	command := release.Command
	var port int
	if spec, ok := release.ProcessTypes[in.ProcessType]; ok && spec != nil {
		if len(spec.Command) > 0 {
			command = spec.Command
		}
		port = spec.Port
	}

	mounts := make([]Mount, 0, len(attachments))
	for _, a := range attachments {
		mounts = append(mounts, Mount{VolumeID: a.VolumeID, MountPath: a.MountPath})
	}
	sort.Slice(mounts, func(i, j int) bool { return mounts[i].MountPath < mounts[j].MountPath })

	return Workload{
		InstanceID:       in.InstanceID,
		EnvID:            in.EnvID,
		ProcessType:      in.ProcessType,
		ReleaseID:        in.ReleaseID,
		ImageRef:         release.ImageRef,
		ImageDigest:      digest,
		Command:          command,
		DesiredState:     in.DesiredState,
		OverlayIPv6:      in.OverlayIPv6.String(),
		SecretsVersionID: in.SecretsVersionID,
		CPUCores:         in.Resources.CPUCores,
		MemoryBytes:      in.Resources.MemoryBytes,
		Port:             port,
		Mounts:           mounts,
		SpecHash:         in.SpecHash,
		Generation:       in.Generation,
	}
}

// SpecVersion hashes the workload set. Same workloads, same version,
// regardless of when or where the plan was built.
func SpecVersion(workloads []Workload) (string, error) {
	data, err := json.Marshal(workloads)
	if err != nil {
		return "", fmt.Errorf("encode workloads: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}
