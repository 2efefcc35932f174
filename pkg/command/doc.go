// Package command implements the write side of the control plane.
// Every mutation follows the same shape: validate against the views,
// reserve quota, append events with optimistic concurrency, store the
// idempotency record in the same transaction, then wait for the
// affected views to catch up before answering.
package command
