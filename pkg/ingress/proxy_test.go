package ingress

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfm/plfm/pkg/types"
)

// echoListener accepts one connection and echoes a banner then its input
func echoListener(t *testing.T, banner string) (addr string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Fprint(conn, banner)
		io.Copy(conn, conn)
	}()
	return ln.Addr().String()
}

func rawRoute(id string, port int) *types.Route {
	return &types.Route{
		RouteID:      id,
		Hostname:     "mail.example.com",
		ListenPort:   port,
		ProtocolHint: types.ProtocolTCPRaw,
	}
}

func TestProxyQuietClientOnRawOnlyPort(t *testing.T) {
	// server-first protocol: the client writes nothing, the backend
	// speaks first. A raw-only port must not sniff and must connect.
	backend := echoListener(t, "220 ready\r\n")

	table := NewRouteTable()
	table.Replace([]*types.Route{rawRoute("r1", 0)},
		map[string][]string{"r1": {backend}})

	proxy := NewProxy(table)
	client, edge := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		proxy.handle(edge, 0)
		close(done)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "220 ready\r\n", line)

	client.Close()
	<-done
}

func TestFallbackRouteAmbiguousPortDrops(t *testing.T) {
	a := rawRoute("r1", 443)
	b := rawRoute("r2", 443)
	b.Hostname = "other.example.com"

	table := NewRouteTable()
	table.Replace([]*types.Route{a, b}, map[string][]string{
		"r1": {"[fd00::1]:25"},
		"r2": {"[fd00::2]:25"},
	})

	proxy := NewProxy(table)
	assert.Nil(t, proxy.fallbackRoute(443))
}

func TestFallbackRouteSingleRawRoute(t *testing.T) {
	table := NewRouteTable()
	table.Replace([]*types.Route{rawRoute("r1", 9999)},
		map[string][]string{"r1": {"[fd00::1]:25"}})

	proxy := NewProxy(table)
	entry := proxy.fallbackRoute(9999)
	require.NotNil(t, entry)
	assert.Equal(t, "r1", entry.Route.RouteID)
}

func TestFallbackRouteSinglePassthroughRouteRefuses(t *testing.T) {
	// one route on the port, but it expects TLS and does not allow
	// non-TLS fallback
	r := rawRoute("r1", 8443)
	r.ProtocolHint = types.ProtocolTLSPassthrough

	table := NewRouteTable()
	table.Replace([]*types.Route{r}, map[string][]string{"r1": {"[fd00::1]:8080"}})

	proxy := NewProxy(table)
	assert.Nil(t, proxy.fallbackRoute(8443))
}
