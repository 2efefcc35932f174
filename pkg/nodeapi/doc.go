// Package nodeapi is the gRPC surface between worker nodes and the
// control plane: enrollment, heartbeats, plan delivery, status
// reporting, secret material and log shipping. Messages travel as JSON
// frames over a hand-rolled service descriptor.
package nodeapi
