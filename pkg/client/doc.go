// Package client is a thin HTTP client for the control plane API,
// used by the edge process for routing state and by tooling.
package client
