// Package metrics defines the Prometheus collectors shared by the
// control plane, edge and node agent.
package metrics
