/*
Package eventlog is the append-only, aggregate-sequenced event store.

Every state change in the control plane is an event row in Postgres with
a globally monotonic event_id and a per-aggregate seq enforced by a
unique constraint. A seq collision surfaces as types.ErrSequenceConflict
and is the optimistic-concurrency signal: the caller re-reads current
state and retries.

Payloads pass through a Registry that re-encodes them into canonical
sorted-key JSON at append time. Unknown fields are dropped with a
warning, missing required fields fail the append, and unregistered event
types fail at append rather than at read.
*/
package eventlog
