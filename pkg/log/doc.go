/*
Package log provides structured logging for all plfm components.

It wraps zerolog behind a small global logger with helpers for the
fields that recur across the control plane, edge and node agent
(component, request_id, node_id, instance_id). Call Init once from
main before any other package logs.
*/
package log
