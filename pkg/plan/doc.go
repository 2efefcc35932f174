// Package plan turns the read views into per-node desired state. A
// plan's spec version is a content hash, so agents can skip unchanged
// plans.
package plan
