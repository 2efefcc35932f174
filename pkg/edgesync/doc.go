// Package edgesync keeps an edge's route table in step with the
// control plane and persists each applied state to disk, so a
// restarted edge serves the last known routes before it can reconnect.
package edgesync
