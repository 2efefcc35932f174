package ingress

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildClientHello assembles a minimal TLS ClientHello record with an
// optional server_name extension.
func buildClientHello(sni string) []byte {
	var exts []byte
	if sni != "" {
		name := []byte(sni)
		entry := append([]byte{sniTypeHostname, byte(len(name) >> 8), byte(len(name))}, name...)
		list := append([]byte{byte(len(entry) >> 8), byte(len(entry))}, entry...)
		exts = append([]byte{0x00, 0x00, byte(len(list) >> 8), byte(len(list))}, list...)
	}

	body := []byte{0x03, 0x03}               // client version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // session id length
	body = append(body, 0x00, 0x02, 0x13, 0x01) // one cipher suite
	body = append(body, 0x01, 0x00)          // one compression method
	if len(exts) > 0 {
		body = append(body, byte(len(exts)>>8), byte(len(exts)))
		body = append(body, exts...)
	}

	handshake := append([]byte{handshakeClientHello, 0x00, byte(len(body) >> 8), byte(len(body))}, body...)
	record := append([]byte{recordTypeHandshake, 0x03, 0x01, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)
	return record
}

func sniffBytes(t *testing.T, payload []byte) (string, SniffResult, io.Reader) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	go func() {
		client.Write(payload)
	}()

	return SniffSNI(server)
}

func TestSniffSNIFound(t *testing.T) {
	host, result, replay := sniffBytes(t, buildClientHello("app.example.com"))
	assert.Equal(t, SniFound, result)
	assert.Equal(t, "app.example.com", host)
	require.NotNil(t, replay)
}

func TestSniffSNIReplayPreservesBytes(t *testing.T) {
	payload := buildClientHello("app.example.com")
	_, result, replay := sniffBytes(t, payload)
	require.Equal(t, SniFound, result)

	// the backend must see the exact bytes the client sent
	got := make([]byte, len(payload))
	_, err := io.ReadFull(replay, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSniffSNINoServerName(t *testing.T) {
	_, result, _ := sniffBytes(t, buildClientHello(""))
	assert.Equal(t, SniNone, result)
}

func TestSniffSNINotTLS(t *testing.T) {
	_, result, _ := sniffBytes(t, []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	assert.Equal(t, SniNotTLS, result)
}

func TestSniffSNIRejectsBogusRecordVersion(t *testing.T) {
	payload := buildClientHello("app.example.com")
	payload[1], payload[2] = 0x07, 0x00 // outside 0x0300..0x0303

	_, result, _ := sniffBytes(t, payload)
	assert.Equal(t, SniNotTLS, result)
}

func TestSniffSNIMalformedRecord(t *testing.T) {
	// claims to be a handshake but the body is garbage
	payload := []byte{recordTypeHandshake, 0x03, 0x01, 0x00, 0x04, 0xff, 0xff, 0xff, 0xff}
	_, result, _ := sniffBytes(t, payload)
	assert.Equal(t, SniMalformed, result)
}

func TestSniffSNITimeout(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	start := time.Now()
	_, result, _ := SniffSNI(server)
	assert.Equal(t, SniTimeout, result)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestParseClientHelloTruncated(t *testing.T) {
	_, _, malformed := parseClientHello([]byte{handshakeClientHello, 0x00, 0x00})
	assert.True(t, malformed)
}
