// Package agent is the on-node daemon: it enrolls with the control
// plane, heartbeats, pulls its plan when the spec version moves, and
// converges local workloads toward it. Local state lives in BoltDB so
// restarts pick up where the agent left off.
package agent
