// Package ingress is the L4 edge proxy. It sniffs the SNI hostname
// from the TLS ClientHello without terminating TLS, resolves a route,
// optionally prepends a PROXY protocol v2 header, and splices bytes to
// a ready backend.
package ingress
