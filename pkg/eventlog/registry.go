package eventlog

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/plfm/plfm/pkg/log"
)

// Schema describes the payload contract for one event type. Known lists
// the accepted field names; Required must all be present at append time.
type Schema struct {
	Known    []string
	Required []string
}

// Registry maps event_type to its payload schema. Unknown event types
// fail at append, not at read.
type Registry struct {
	schemas map[string]Schema
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register adds a schema for an event type. Registering twice panics;
// registration happens once at process start.
func (r *Registry) Register(eventType string, schema Schema) {
	if _, ok := r.schemas[eventType]; ok {
		panic(fmt.Sprintf("eventlog: duplicate schema registration for %s", eventType))
	}
	r.schemas[eventType] = schema
}

// Canonicalize re-encodes a raw payload into canonical bytes: known
// fields only, keys sorted, stable encoding. Unknown fields are dropped
// with a warning; missing required fields fail the append.
func (r *Registry) Canonicalize(eventType string, raw []byte) ([]byte, error) {
	schema, ok := r.schemas[eventType]
	if !ok {
		return nil, fmt.Errorf("no payload schema registered for event type %q", eventType)
	}

	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", eventType, err)
	}

	known := make(map[string]bool, len(schema.Known))
	for _, f := range schema.Known {
		known[f] = true
	}

	for _, req := range schema.Required {
		if _, ok := fields[req]; !ok {
			return nil, fmt.Errorf("payload for %s missing required field %q", eventType, req)
		}
	}

	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if !known[k] {
			log.Logger.Warn().
				Str("event_type", eventType).
				Str("field", k).
				Msg("dropping unknown payload field")
			continue
		}
		out[k] = v
	}

	// map marshaling sorts keys, so the encoding is canonical
	return json.Marshal(out)
}

// KnownTypes returns the registered event types in sorted order
func (r *Registry) KnownTypes() []string {
	out := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns a registry loaded with every event type the
// control plane appends.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("org.created", Schema{
		Known:    []string{"name"},
		Required: []string{"name"},
	})
	r.Register("org.deleted", Schema{Known: []string{"reason"}})

	r.Register("app.created", Schema{
		Known:    []string{"orgId", "name", "description"},
		Required: []string{"orgId", "name"},
	})
	r.Register("app.deleted", Schema{Known: []string{"reason"}})

	r.Register("env.created", Schema{
		Known:    []string{"orgId", "appId", "name"},
		Required: []string{"orgId", "appId", "name"},
	})
	r.Register("env.scaled", Schema{
		Known:    []string{"processType", "replicas"},
		Required: []string{"processType", "replicas"},
	})
	r.Register("env.ipv4_enabled", Schema{
		Known:    []string{"dedicatedIpv4"},
		Required: []string{"dedicatedIpv4"},
	})
	r.Register("env.deleted", Schema{Known: []string{"reason"}})

	r.Register("release.created", Schema{
		Known: []string{"orgId", "appId", "imageRef", "imageDigest",
			"imageDigestByArch", "manifestSchemaVersion", "manifestHash",
			"command", "processTypes"},
		Required: []string{"orgId", "appId", "imageRef", "imageDigest", "manifestHash"},
	})

	r.Register("deploy.created", Schema{
		Known:    []string{"orgId", "appId", "envId", "releaseId"},
		Required: []string{"orgId", "appId", "envId", "releaseId"},
	})
	r.Register("deploy.status_changed", Schema{
		Known:    []string{"status", "reason"},
		Required: []string{"status"},
	})

	r.Register("route.created", Schema{
		Known: []string{"orgId", "appId", "envId", "hostname", "listenPort",
			"backendProcessType", "backendPort", "protocolHint",
			"proxyProtocol", "allowNonTlsFallback"},
		Required: []string{"orgId", "appId", "envId", "hostname", "listenPort",
			"backendProcessType", "backendPort"},
	})
	r.Register("route.updated", Schema{
		Known: []string{"hostname", "listenPort", "backendProcessType",
			"backendPort", "protocolHint", "proxyProtocol", "allowNonTlsFallback"},
	})
	r.Register("route.deleted", Schema{Known: []string{"reason"}})

	r.Register("secret_bundle.created", Schema{
		Known:    []string{"orgId", "appId", "envId", "versionId", "contentHash", "ciphertext"},
		Required: []string{"orgId", "appId", "envId", "versionId", "contentHash"},
	})

	r.Register("volume.created", Schema{
		Known:    []string{"orgId", "appId", "envId", "name", "sizeBytes"},
		Required: []string{"orgId", "appId", "envId", "name"},
	})
	r.Register("volume.attached", Schema{
		Known:    []string{"volumeId", "processType", "mountPath"},
		Required: []string{"volumeId", "processType", "mountPath"},
	})
	r.Register("volume.detached", Schema{
		Known:    []string{"volumeId"},
		Required: []string{"volumeId"},
	})
	r.Register("volume.deleted", Schema{Known: []string{"reason"}})

	r.Register("snapshot.created", Schema{
		Known:    []string{"orgId", "volumeId", "sizeBytes"},
		Required: []string{"orgId", "volumeId"},
	})

	r.Register("instance.allocated", Schema{
		Known: []string{"instanceId", "orgId", "appId", "envId", "nodeId",
			"processType", "releaseId", "secretsVersionId", "overlayIpv6",
			"resourcesSnapshot", "specHash", "deployId"},
		Required: []string{"instanceId", "nodeId", "processType", "releaseId",
			"overlayIpv6", "specHash"},
	})
	r.Register("instance.desired_state_changed", Schema{
		Known:    []string{"desiredState", "reason"},
		Required: []string{"desiredState"},
	})
	r.Register("instance.status_changed", Schema{
		Known:    []string{"status", "bootId", "exitCode", "reason"},
		Required: []string{"status"},
	})

	r.Register("node.enrolled", Schema{
		Known: []string{"nodeId", "wireguardPubKey", "overlayIpv6", "arch",
			"cpuCores", "memoryBytes", "labels"},
		Required: []string{"nodeId", "wireguardPubKey", "overlayIpv6"},
	})
	r.Register("node.state_changed", Schema{
		Known:    []string{"state", "reason"},
		Required: []string{"state"},
	})

	r.Register("exec_session.started", Schema{
		Known:    []string{"orgId", "envId", "instanceId", "command"},
		Required: []string{"instanceId"},
	})
	r.Register("exec_session.ended", Schema{
		Known: []string{"exitCode", "reason"},
	})

	return r
}
