package ingress

import (
	"strings"
	"sync/atomic"

	"github.com/plfm/plfm/pkg/types"
)

// RouteEntry is one resolved route plus its backend pool
type RouteEntry struct {
	Route *types.Route
	Pool  *BackendPool
}

// routeKey identifies a route slot in the table
type routeKey struct {
	hostname string
	port     int
}

// RouteTable maps (hostname, port) to backends. Lookups read an
// immutable snapshot through an atomic pointer; updates build a new
// snapshot and swap it in, so the accept path never takes a lock.
type RouteTable struct {
	snapshot atomic.Pointer[map[routeKey]*RouteEntry]
}

// NewRouteTable creates an empty table
func NewRouteTable() *RouteTable {
	t := &RouteTable{}
	empty := make(map[routeKey]*RouteEntry)
	t.snapshot.Store(&empty)
	return t
}

// NormalizeHostname lowercases and strips the trailing dot, matching
// how the control plane stores route hostnames.
func NormalizeHostname(hostname string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
}

// Lookup resolves a sniffed hostname on a listen port
func (t *RouteTable) Lookup(hostname string, port int) *RouteEntry {
	snap := *t.snapshot.Load()
	return snap[routeKey{hostname: NormalizeHostname(hostname), port: port}]
}

// Replace swaps in a complete new route set. Existing backend pools are
// carried over for unchanged routes so health state survives updates.
func (t *RouteTable) Replace(routes []*types.Route, backends map[string][]string) {
	old := *t.snapshot.Load()

	next := make(map[routeKey]*RouteEntry, len(routes))
	for _, r := range routes {
		key := routeKey{hostname: NormalizeHostname(r.Hostname), port: r.ListenPort}
		entry := &RouteEntry{Route: r}

		if prev, ok := old[key]; ok && prev.Route.RouteID == r.RouteID {
			entry.Pool = prev.Pool
			entry.Pool.SetBackends(backends[r.RouteID])
		} else {
			entry.Pool = NewBackendPool(backends[r.RouteID])
		}
		next[key] = entry
	}

	t.snapshot.Store(&next)
}

// Upsert adds or replaces one route without rebuilding the table. The
// backend pool carries over when the route stays on the same slot, so
// health state survives backend updates.
func (t *RouteTable) Upsert(r *types.Route, backends []string) {
	old := *t.snapshot.Load()

	next := make(map[routeKey]*RouteEntry, len(old)+1)
	for k, v := range old {
		// the route may have moved to a new hostname or port
		if v.Route.RouteID == r.RouteID {
			continue
		}
		next[k] = v
	}

	key := routeKey{hostname: NormalizeHostname(r.Hostname), port: r.ListenPort}
	entry := &RouteEntry{Route: r}
	if prev, ok := old[key]; ok && prev.Route.RouteID == r.RouteID {
		entry.Pool = prev.Pool
		entry.Pool.SetBackends(backends)
	} else {
		entry.Pool = NewBackendPool(backends)
	}
	next[key] = entry

	t.snapshot.Store(&next)
}

// Remove drops one route by id. Removing an absent route is a no-op.
func (t *RouteTable) Remove(routeID string) {
	old := *t.snapshot.Load()

	next := make(map[routeKey]*RouteEntry, len(old))
	for k, v := range old {
		if v.Route.RouteID == routeID {
			continue
		}
		next[k] = v
	}

	t.snapshot.Store(&next)
}

// HasPassthrough reports whether any route on the port expects a TLS
// ClientHello. Ports without one skip the SNI sniff entirely.
func (t *RouteTable) HasPassthrough(port int) bool {
	snap := *t.snapshot.Load()
	for key, entry := range snap {
		if key.port == port && entry.Route.ProtocolHint == types.ProtocolTLSPassthrough {
			return true
		}
	}
	return false
}

// Len reports how many routes the current snapshot holds
func (t *RouteTable) Len() int {
	return len(*t.snapshot.Load())
}

// ListenPorts returns the distinct ports the table routes on
func (t *RouteTable) ListenPorts() []int {
	snap := *t.snapshot.Load()
	seen := make(map[int]bool)
	var ports []int
	for key := range snap {
		if !seen[key.port] {
			seen[key.port] = true
			ports = append(ports, key.port)
		}
	}
	return ports
}
