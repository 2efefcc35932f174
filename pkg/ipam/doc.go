// Package ipam allocates overlay IPv6 addresses by combining a fixed /64
// prefix with a monotonic suffix sequence, retrying rare collisions.
package ipam
