// Package spechash computes the deterministic workload identity digest.
// The scheduler replaces an instance whenever its spec hash changes.
package spechash
