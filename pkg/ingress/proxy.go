package ingress

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/metrics"
	"github.com/plfm/plfm/pkg/types"
)

const (
	defaultMaxConns    = 4096
	defaultDialTimeout = 2 * time.Second
)

// Proxy is the L4 edge: sniff SNI, resolve a route, splice bytes. TLS
// is never terminated here.
type Proxy struct {
	table       *RouteTable
	maxConns    chan struct{}
	dialTimeout time.Duration
}

// NewProxy creates a proxy over a shared route table
func NewProxy(table *RouteTable) *Proxy {
	return &Proxy{
		table:       table,
		maxConns:    make(chan struct{}, defaultMaxConns),
		dialTimeout: defaultDialTimeout,
	}
}

// Table returns the route table the sync loop updates
func (p *Proxy) Table() *RouteTable { return p.table }

// ListenAndServe accepts connections on one port until ctx is cancelled
func (p *Proxy) ListenAndServe(ctx context.Context, port int) error {
	logger := log.WithComponent("ingress")

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on :%d: %w", port, err)
	}
	logger.Info().Int("port", port).Msg("edge listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			logger.Error().Err(err).Int("port", port).Msg("accept failed")
			continue
		}

		select {
		case p.maxConns <- struct{}{}:
		default:
			// over the connection budget: shed load at accept
			conn.Close()
			metrics.IngressConnections.WithLabelValues("rejected_overload").Inc()
			continue
		}

		go func() {
			defer func() { <-p.maxConns }()
			p.handle(conn, port)
		}()
	}
}

func (p *Proxy) handle(conn net.Conn, port int) {
	defer conn.Close()
	logger := log.WithComponent("ingress")

	metrics.IngressActiveConnections.Inc()
	defer metrics.IngressActiveConnections.Dec()

	// peek at the ClientHello only when a route on this port expects
	// one; a raw-TCP-only port must not stall server-first protocols
	var (
		hostname string
		result   SniffResult
		replay   io.Reader
	)
	if p.table.HasPassthrough(port) {
		hostname, result, replay = SniffSNI(conn)
	} else {
		result = SniNotTLS
	}

	var entry *RouteEntry
	switch result {
	case SniFound:
		entry = p.table.Lookup(hostname, port)
		if entry == nil {
			metrics.IngressConnections.WithLabelValues("no_route").Inc()
			logger.Debug().Str("hostname", hostname).Int("port", port).Msg("no route for sni")
			return
		}
	case SniNone, SniNotTLS, SniTimeout:
		// a quiet client may be speaking a server-first protocol
		entry = p.fallbackRoute(port)
		if entry == nil {
			metrics.IngressConnections.WithLabelValues(result.String()).Inc()
			logger.Debug().Int("port", port).Str("result", result.String()).Msg("no fallback route")
			return
		}
	default:
		metrics.IngressConnections.WithLabelValues(result.String()).Inc()
		return
	}

	backendConn, backend := p.dialBackend(entry)
	if backendConn == nil {
		metrics.IngressConnections.WithLabelValues("backend_unreachable").Inc()
		logger.Warn().Str("route_id", entry.Route.RouteID).Msg("no reachable backend")
		return
	}
	defer backendConn.Close()

	if entry.Route.ProxyProtocol == types.ProxyProtocolV2 {
		header, err := ProxyHeaderV2(conn.RemoteAddr(), conn.LocalAddr())
		if err != nil {
			// never feed a v2-expecting backend a bare stream
			metrics.IngressConnections.WithLabelValues("proxy_header_failed").Inc()
			logger.Warn().Err(err).Str("route_id", entry.Route.RouteID).Msg("proxy header build failed")
			return
		}
		if _, err = backendConn.Write(header); err != nil {
			metrics.IngressConnections.WithLabelValues("backend_write_failed").Inc()
			return
		}
	}

	metrics.IngressConnections.WithLabelValues("proxied").Inc()
	in, out := Splice(conn, backendConn, replay)
	logger.Debug().
		Str("route_id", entry.Route.RouteID).
		Str("backend", backend).
		Int64("bytes_in", in).
		Int64("bytes_out", out).
		Msg("connection closed")
}

// dialBackend walks the pool until a dial succeeds, marking health
func (p *Proxy) dialBackend(entry *RouteEntry) (net.Conn, string) {
	attempts := entry.Pool.Size()
	for i := 0; i < attempts; i++ {
		backend := entry.Pool.Pick()
		if backend == "" {
			return nil, ""
		}
		conn, err := net.DialTimeout("tcp", backend, p.dialTimeout)
		if err != nil {
			entry.Pool.MarkUnhealthy(backend)
			metrics.BackendHealth.WithLabelValues(entry.Route.RouteID, backend).Set(0)
			continue
		}
		entry.Pool.MarkHealthy(backend)
		metrics.BackendHealth.WithLabelValues(entry.Route.RouteID, backend).Set(1)
		return conn, backend
	}
	return nil, ""
}

// fallbackRoute resolves traffic that carries no SNI. Without a
// hostname the route is only unambiguous when the port holds exactly
// one route, and that route must accept non-TLS traffic.
func (p *Proxy) fallbackRoute(port int) *RouteEntry {
	snap := *p.table.snapshot.Load()

	var match *RouteEntry
	for key, entry := range snap {
		if key.port != port {
			continue
		}
		if match != nil {
			return nil
		}
		match = entry
	}
	if match == nil {
		return nil
	}
	if match.Route.ProtocolHint == types.ProtocolTCPRaw || match.Route.AllowNonTLSFallback {
		return match
	}
	return nil
}
