package ingress

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyHeaderV2IPv4(t *testing.T) {
	client := &net.TCPAddr{IP: net.ParseIP("203.0.113.7"), Port: 52000}
	proxy := &net.TCPAddr{IP: net.ParseIP("198.51.100.1"), Port: 443}

	header, err := ProxyHeaderV2(client, proxy)
	require.NoError(t, err)

	require.Len(t, header, 28)
	assert.Equal(t, proxyV2Signature, header[:12])
	assert.Equal(t, byte(proxyV2VersionCommand), header[12])
	assert.Equal(t, byte(proxyV2FamilyTCPv4), header[13])
	assert.Equal(t, uint16(12), binary.BigEndian.Uint16(header[14:16]))
	assert.Equal(t, net.ParseIP("203.0.113.7").To4(), net.IP(header[16:20]))
	assert.Equal(t, net.ParseIP("198.51.100.1").To4(), net.IP(header[20:24]))
	assert.Equal(t, uint16(52000), binary.BigEndian.Uint16(header[24:26]))
	assert.Equal(t, uint16(443), binary.BigEndian.Uint16(header[26:28]))
}

func TestProxyHeaderV2IPv6(t *testing.T) {
	client := &net.TCPAddr{IP: net.ParseIP("2001:db8::7"), Port: 52000}
	proxy := &net.TCPAddr{IP: net.ParseIP("fd00::1"), Port: 443}

	header, err := ProxyHeaderV2(client, proxy)
	require.NoError(t, err)

	// 16 byte header + 36 byte IPv6 address block
	require.Len(t, header, 52)
	assert.Equal(t, byte(proxyV2FamilyTCPv6), header[13])
	assert.Equal(t, uint16(36), binary.BigEndian.Uint16(header[14:16]))
	assert.Equal(t, net.ParseIP("2001:db8::7").To16(), net.IP(header[16:32]))
	assert.Equal(t, net.ParseIP("fd00::1").To16(), net.IP(header[32:48]))
	assert.Equal(t, uint16(52000), binary.BigEndian.Uint16(header[48:50]))
	assert.Equal(t, uint16(443), binary.BigEndian.Uint16(header[50:52]))
}

func TestProxyHeaderV2MixedFamiliesUsesIPv6(t *testing.T) {
	client := &net.TCPAddr{IP: net.ParseIP("203.0.113.7"), Port: 1}
	proxy := &net.TCPAddr{IP: net.ParseIP("fd00::1"), Port: 443}

	header, err := ProxyHeaderV2(client, proxy)
	require.NoError(t, err)
	assert.Equal(t, byte(proxyV2FamilyTCPv6), header[13])
}

func TestProxyHeaderV2RejectsNonTCP(t *testing.T) {
	_, err := ProxyHeaderV2(&net.UDPAddr{}, &net.TCPAddr{})
	assert.Error(t, err)
}
