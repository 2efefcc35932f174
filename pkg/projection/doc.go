// Package projection derives the read views from the event log. Each
// handler owns one view, applies its consumed event types inside a
// transaction and advances a per-handler checkpoint in the same
// transaction, so a view and its checkpoint can never disagree.
package projection
