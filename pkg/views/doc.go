// Package views reads the projection-maintained tables back into typed
// domain structs. All reads are eventually consistent with the log.
package views
