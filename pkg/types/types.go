package types

import (
	"net"
	"time"
)

// AggregateType identifies the kind of entity an event belongs to
type AggregateType string

const (
	AggregateOrg          AggregateType = "org"
	AggregateApp          AggregateType = "app"
	AggregateEnv          AggregateType = "env"
	AggregateRelease      AggregateType = "release"
	AggregateDeploy       AggregateType = "deploy"
	AggregateRoute        AggregateType = "route"
	AggregateSecretBundle AggregateType = "secret_bundle"
	AggregateVolume       AggregateType = "volume"
	AggregateSnapshot     AggregateType = "snapshot"
	AggregateInstance     AggregateType = "instance"
	AggregateNode         AggregateType = "node"
	AggregateExecSession  AggregateType = "exec_session"
)

// ActorType identifies who caused an event
type ActorType string

const (
	ActorUser             ActorType = "user"
	ActorServicePrincipal ActorType = "service_principal"
	ActorSystem           ActorType = "system"
)

// Event is an immutable record in the append-only log.
// EventID is globally monotonic; AggregateSeq is monotonic per aggregate
// starting at 1.
type Event struct {
	EventID        int64
	AggregateType  AggregateType
	AggregateID    string
	AggregateSeq   int64
	EventType      string
	EventVersion   int32
	ActorType      ActorType
	ActorID        string
	OrgID          string
	AppID          string
	EnvID          string
	RequestID      string
	IdempotencyKey string
	CorrelationID  string
	CausationID    string
	OccurredAt     time.Time
	Payload        []byte // canonical JSON, re-encoded at append time
}

// Org is the tenant root aggregate view
type Org struct {
	OrgID           string
	Name            string
	IsDeleted       bool
	ResourceVersion int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// App groups environments under an org
type App struct {
	AppID           string
	OrgID           string
	Name            string
	Description     string
	IsDeleted       bool
	ResourceVersion int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Env is a deployment target inside an app
type Env struct {
	EnvID            string
	OrgID            string
	AppID            string
	Name             string
	DesiredReleaseID string
	DesiredReplicas  map[string]int // process type -> replicas
	DedicatedIPv4    string         // empty until IPv4 is enabled
	IsDeleted        bool
	ResourceVersion  int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Release is an immutable build of an app
type Release struct {
	ReleaseID             string
	OrgID                 string
	AppID                 string
	ImageRef              string
	ImageDigest           string
	ImageDigestByArch     map[string]string
	ManifestSchemaVersion int32
	ManifestHash          string
	Command               []string
	ProcessTypes          map[string]*ProcessSpec
	ResourceVersion       int64
	CreatedAt             time.Time
}

// ProcessSpec describes one process type within a release
type ProcessSpec struct {
	Command     []string
	CPUCores    float64
	MemoryBytes int64
	Port        int
}

// DeployStatus tracks a deploy through its lifecycle
type DeployStatus string

const (
	DeployPending   DeployStatus = "pending"
	DeployRolling   DeployStatus = "rolling"
	DeploySucceeded DeployStatus = "succeeded"
	DeployFailed    DeployStatus = "failed"
)

// Deploy points an environment at a release
type Deploy struct {
	DeployID        string
	OrgID           string
	AppID           string
	EnvID           string
	ReleaseID       string
	Status          DeployStatus
	ResourceVersion int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DesiredState is the scheduler-owned target state of an instance
type DesiredState string

const (
	DesiredRunning  DesiredState = "running"
	DesiredDraining DesiredState = "draining"
	DesiredStopped  DesiredState = "stopped"
)

// InstanceStatus is what the node agent reports back
type InstanceStatus string

const (
	StatusBooting  InstanceStatus = "booting"
	StatusReady    InstanceStatus = "ready"
	StatusDraining InstanceStatus = "draining"
	StatusStopped  InstanceStatus = "stopped"
	StatusFailed   InstanceStatus = "failed"
)

// Instance is a workload placement record. The scheduler exclusively
// writes instance events; the node agent only writes the status side-table.
type Instance struct {
	InstanceID       string
	OrgID            string
	AppID            string
	EnvID            string
	ProcessType      string
	NodeID           string
	DesiredState     DesiredState
	Status           InstanceStatus
	ReleaseID        string
	DeployID         string
	SecretsVersionID string
	OverlayIPv6      net.IP
	Resources        ResourceSnapshot
	SpecHash         string
	Generation       int64
	ResourceVersion  int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ResourceSnapshot captures the cpu/memory request an instance was placed with
type ResourceSnapshot struct {
	CPUCores    float64 `json:"cpuCores"`
	MemoryBytes int64   `json:"memoryBytes"`
}

// NodeState represents the lifecycle state of an enrolled node
type NodeState string

const (
	NodeActive   NodeState = "active"
	NodeDraining NodeState = "draining"
	NodeDisabled NodeState = "disabled"
	NodeDegraded NodeState = "degraded"
	NodeOffline  NodeState = "offline"
)

// Node is an enrolled worker
type Node struct {
	NodeID          string
	State           NodeState
	WireGuardPubKey string
	OverlayIPv6     net.IP
	Arch            string
	Allocatable     NodeAllocatable
	Labels          map[string]string
	LastHeartbeat   time.Time
	ResourceVersion int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NodeAllocatable tracks capacity and live available counters
type NodeAllocatable struct {
	CPUCores             float64 `json:"cpuCores"`
	MemoryBytes          int64   `json:"memoryBytes"`
	AvailableCPUCores    float64 `json:"availableCpuCores"`
	AvailableMemoryBytes int64   `json:"availableMemoryBytes"`
	InstanceCount        int     `json:"instanceCount"`
}

// ProtocolHint selects how the edge treats bytes on a route
type ProtocolHint string

const (
	ProtocolTLSPassthrough ProtocolHint = "tls_passthrough"
	ProtocolTCPRaw         ProtocolHint = "tcp_raw"
)

// ProxyProtocol selects PROXY header injection for a route
type ProxyProtocol string

const (
	ProxyProtocolOff ProxyProtocol = "off"
	ProxyProtocolV2  ProxyProtocol = "v2"
)

// Route maps (hostname, port) to one environment's process type.
// Hostname is stored normalized: lowercased, trailing dot trimmed.
type Route struct {
	RouteID             string
	OrgID               string
	AppID               string
	EnvID               string
	Hostname            string
	ListenPort          int
	BackendProcessType  string
	BackendPort         int
	ProtocolHint        ProtocolHint
	ProxyProtocol       ProxyProtocol
	AllowNonTLSFallback bool
	IsDeleted           bool
	ResourceVersion     int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SecretBundle is a versioned set of env-style secrets for an environment
type SecretBundle struct {
	BundleID        string
	OrgID           string
	AppID           string
	EnvID           string
	VersionID       string
	ContentHash     string
	Ciphertext      []byte // AES-256-GCM, nonce prepended
	ResourceVersion int64
	CreatedAt       time.Time
}

// Volume is persistent storage attachable to one environment process
type Volume struct {
	VolumeID        string
	OrgID           string
	AppID           string
	EnvID           string
	Name            string
	SizeBytes       int64
	IsDeleted       bool
	ResourceVersion int64
	CreatedAt       time.Time
}

// VolumeAttachment binds a volume to a process type at a mount path
type VolumeAttachment struct {
	AttachmentID    string
	VolumeID        string
	OrgID           string
	AppID           string
	EnvID           string
	ProcessType     string
	MountPath       string
	ResourceVersion int64
	CreatedAt       time.Time
}

// Snapshot is a point-in-time copy of a volume
type Snapshot struct {
	SnapshotID      string
	VolumeID        string
	OrgID           string
	SizeBytes       int64
	ResourceVersion int64
	CreatedAt       time.Time
}

// WorkloadLogLine is one line of stdout/stderr captured from a microVM
type WorkloadLogLine struct {
	OrgID      string    `json:"orgId"`
	AppID      string    `json:"appId"`
	EnvID      string    `json:"envId"`
	InstanceID string    `json:"instanceId"`
	Stream     string    `json:"stream"` // stdout | stderr
	Line       string    `json:"line"`   // <= 16 KiB
	Truncated  bool      `json:"truncated"`
	Timestamp  time.Time `json:"ts"`
}

// MaxLogLineBytes is the per-line cap; longer lines are chopped and flagged
const MaxLogLineBytes = 16 * 1024
