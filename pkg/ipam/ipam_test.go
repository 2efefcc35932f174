package ipam

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqSource struct{ next uint64 }

func (s *seqSource) NextSuffix() (uint64, error) {
	s.next++
	return s.next, nil
}

func TestAddress(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		suffix   uint64
		expected string
	}{
		{"first instance", "fd00::", 1, "fd00::1"},
		{"node prefix", "fd00:0:0:1::", 5, "fd00:0:0:1::5"},
		{"large suffix", "fd00::", 0x1_0000, "fd00::1:0"},
		{"max low byte", "fd00::", 255, "fd00::ff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := Address(net.ParseIP(tt.prefix), tt.suffix)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ip.String())
		})
	}
}

func TestAddressInvalidPrefix(t *testing.T) {
	_, err := Address(nil, 1)
	assert.Error(t, err)
}

func TestAllocateSkipsCollisions(t *testing.T) {
	taken := map[string]bool{"fd00::1": true, "fd00::2": true}

	alloc := NewAllocator(net.ParseIP("fd00::"), &seqSource{}, func(ip net.IP) (bool, error) {
		return taken[ip.String()], nil
	})

	ip, err := alloc.Allocate()
	require.NoError(t, err)
	assert.Equal(t, "fd00::3", ip.String())
}

func TestAllocateExhaustsRetries(t *testing.T) {
	alloc := NewAllocator(net.ParseIP("fd00::"), &seqSource{}, func(net.IP) (bool, error) {
		return true, nil
	})

	_, err := alloc.Allocate()
	assert.Error(t, err)
}

func TestValidIPv4(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"203.0.113.9", true},
		{"10.0.0.1", true},
		{"fd00::1", false},
		{"203.0.113", false},
		{"", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidIPv4(tt.in), "input %q", tt.in)
	}
}
