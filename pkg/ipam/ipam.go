package ipam

import (
	"fmt"
	"net"
)

// MaxAllocateRetries bounds retries when a suffix collides with an
// existing allocation.
const MaxAllocateRetries = 5

// Address combines a /64 base prefix with a monotonic suffix into a
// concrete overlay address. The suffix fills the low 64 bits.
func Address(prefix net.IP, suffix uint64) (net.IP, error) {
	p := prefix.To16()
	if p == nil {
		return nil, fmt.Errorf("invalid ipv6 prefix: %v", prefix)
	}

	ip := make(net.IP, net.IPv6len)
	copy(ip, p[:8])
	for i := 0; i < 8; i++ {
		ip[15-i] = byte(suffix >> (8 * i))
	}
	return ip, nil
}

// SuffixSource hands out monotonically increasing suffixes. Backed by a
// database sequence in the control plane; in-memory in tests.
type SuffixSource interface {
	NextSuffix() (uint64, error)
}

// Exists reports whether an address is already allocated. Implemented by
// the read views; drives collision retries.
type Exists func(ip net.IP) (bool, error)

// Allocator allocates overlay addresses under a fixed prefix
type Allocator struct {
	prefix net.IP
	source SuffixSource
	exists Exists
}

// NewAllocator creates an allocator for the given /64 prefix
func NewAllocator(prefix net.IP, source SuffixSource, exists Exists) *Allocator {
	return &Allocator{prefix: prefix, source: source, exists: exists}
}

// Allocate returns a fresh unique address, retrying collided suffixes up
// to MaxAllocateRetries times.
func (a *Allocator) Allocate() (net.IP, error) {
	for attempt := 0; attempt < MaxAllocateRetries; attempt++ {
		suffix, err := a.source.NextSuffix()
		if err != nil {
			return nil, fmt.Errorf("next suffix: %w", err)
		}

		ip, err := Address(a.prefix, suffix)
		if err != nil {
			return nil, err
		}

		if a.exists != nil {
			taken, err := a.exists(ip)
			if err != nil {
				return nil, fmt.Errorf("check allocation: %w", err)
			}
			if taken {
				continue
			}
		}
		return ip, nil
	}
	return nil, fmt.Errorf("overlay address allocation failed after %d attempts", MaxAllocateRetries)
}
