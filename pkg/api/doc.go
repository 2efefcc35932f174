// Package api is the control plane's versioned HTTP surface: resource
// CRUD with receipt envelopes, event and log streaming, device-flow
// auth, node bootstrap, and the exec websocket proxy.
package api
