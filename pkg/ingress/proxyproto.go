package ingress

import (
	"encoding/binary"
	"fmt"
	"net"
)

// PROXY protocol v2 constants
var proxyV2Signature = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

const (
	proxyV2VersionCommand = 0x21 // version 2, PROXY command
	proxyV2FamilyTCPv4    = 0x11
	proxyV2FamilyTCPv6    = 0x21
)

// ProxyHeaderV2 builds the binary PROXY protocol v2 header describing
// the original client connection. Backends behind proxy_protocol=v2
// read this before the payload bytes.
func ProxyHeaderV2(clientAddr, proxyAddr net.Addr) ([]byte, error) {
	client, ok := clientAddr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("client address %v is not TCP", clientAddr)
	}
	proxy, ok := proxyAddr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("proxy address %v is not TCP", proxyAddr)
	}

	client4 := client.IP.To4()
	proxy4 := proxy.IP.To4()

	var family byte
	var addrLen uint16
	switch {
	case client4 != nil && proxy4 != nil:
		family = proxyV2FamilyTCPv4
		addrLen = 12 // src(4) dst(4) srcPort(2) dstPort(2)
	default:
		family = proxyV2FamilyTCPv6
		addrLen = 36 // src(16) dst(16) srcPort(2) dstPort(2)
	}

	buf := make([]byte, 0, 16+addrLen)
	buf = append(buf, proxyV2Signature...)
	buf = append(buf, proxyV2VersionCommand, family)
	buf = binary.BigEndian.AppendUint16(buf, addrLen)

	if family == proxyV2FamilyTCPv4 {
		buf = append(buf, client4...)
		buf = append(buf, proxy4...)
	} else {
		buf = append(buf, client.IP.To16()...)
		buf = append(buf, proxy.IP.To16()...)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(client.Port))
	buf = binary.BigEndian.AppendUint16(buf, uint16(proxy.Port))

	return buf, nil
}
