package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfm/plfm/pkg/types"
)

func testRoute(id, hostname string, port int) *types.Route {
	return &types.Route{
		RouteID:      id,
		Hostname:     hostname,
		ListenPort:   port,
		ProtocolHint: types.ProtocolTLSPassthrough,
	}
}

func TestRouteTableLookup(t *testing.T) {
	table := NewRouteTable()
	table.Replace([]*types.Route{testRoute("r1", "app.example.com", 443)},
		map[string][]string{"r1": {"[fd00::1]:8080"}})

	entry := table.Lookup("app.example.com", 443)
	require.NotNil(t, entry)
	assert.Equal(t, "r1", entry.Route.RouteID)

	assert.Nil(t, table.Lookup("other.example.com", 443))
	assert.Nil(t, table.Lookup("app.example.com", 8443))
}

func TestRouteTableLookupNormalizes(t *testing.T) {
	table := NewRouteTable()
	table.Replace([]*types.Route{testRoute("r1", "app.example.com", 443)}, nil)

	assert.NotNil(t, table.Lookup("APP.Example.COM.", 443))
}

func TestNormalizeHostnameIdempotent(t *testing.T) {
	once := NormalizeHostname("App.Example.COM.")
	assert.Equal(t, "app.example.com", once)
	assert.Equal(t, once, NormalizeHostname(once))
}

func TestRouteTableReplaceKeepsPoolHealth(t *testing.T) {
	table := NewRouteTable()
	table.Replace([]*types.Route{testRoute("r1", "app.example.com", 443)},
		map[string][]string{"r1": {"[fd00::1]:8080", "[fd00::2]:8080"}})

	entry := table.Lookup("app.example.com", 443)
	require.NotNil(t, entry)
	entry.Pool.MarkUnhealthy("[fd00::1]:8080")

	// same route replaced: pool instance and health marks survive
	table.Replace([]*types.Route{testRoute("r1", "app.example.com", 443)},
		map[string][]string{"r1": {"[fd00::1]:8080", "[fd00::2]:8080"}})

	after := table.Lookup("app.example.com", 443)
	require.NotNil(t, after)
	assert.Same(t, entry.Pool, after.Pool)
	assert.Equal(t, "[fd00::2]:8080", after.Pool.Pick())
}

func TestRouteTableReplaceDropsRemovedRoutes(t *testing.T) {
	table := NewRouteTable()
	table.Replace([]*types.Route{testRoute("r1", "app.example.com", 443)}, nil)
	assert.Equal(t, 1, table.Len())

	table.Replace(nil, nil)
	assert.Equal(t, 0, table.Len())
	assert.Nil(t, table.Lookup("app.example.com", 443))
}

func TestRouteTableSnapshotIsolation(t *testing.T) {
	table := NewRouteTable()
	table.Replace([]*types.Route{testRoute("r1", "a.example.com", 443)}, nil)

	// a lookup taken before a replace still resolves against its snapshot
	before := table.Lookup("a.example.com", 443)
	table.Replace([]*types.Route{testRoute("r2", "b.example.com", 443)}, nil)

	require.NotNil(t, before)
	assert.Equal(t, "r1", before.Route.RouteID)
	assert.Nil(t, table.Lookup("a.example.com", 443))
}

func TestRouteTableHasPassthrough(t *testing.T) {
	raw := testRoute("r1", "smtp.example.com", 9999)
	raw.ProtocolHint = types.ProtocolTCPRaw

	table := NewRouteTable()
	table.Replace([]*types.Route{
		raw,
		testRoute("r2", "app.example.com", 443),
	}, map[string][]string{
		"r1": {"[fd00::1]:25"},
		"r2": {"[fd00::2]:8080"},
	})

	assert.False(t, table.HasPassthrough(9999))
	assert.True(t, table.HasPassthrough(443))
	assert.False(t, table.HasPassthrough(1234))
}

func TestRouteTableListenPorts(t *testing.T) {
	table := NewRouteTable()
	table.Replace([]*types.Route{
		testRoute("r1", "a.example.com", 443),
		testRoute("r2", "b.example.com", 443),
		testRoute("r3", "c.example.com", 5432),
	}, nil)

	ports := table.ListenPorts()
	assert.ElementsMatch(t, []int{443, 5432}, ports)
}

func TestRouteTableUpsertAddsRoute(t *testing.T) {
	table := NewRouteTable()
	table.Replace([]*types.Route{testRoute("r1", "a.example.com", 443)},
		map[string][]string{"r1": {"[fd00::1]:8080"}})

	table.Upsert(testRoute("r2", "b.example.com", 443), []string{"[fd00::2]:8080"})

	assert.Equal(t, 2, table.Len())
	assert.NotNil(t, table.Lookup("a.example.com", 443))
	require.NotNil(t, table.Lookup("b.example.com", 443))
}

func TestRouteTableUpsertKeepsPoolHealth(t *testing.T) {
	table := NewRouteTable()
	table.Upsert(testRoute("r1", "a.example.com", 443),
		[]string{"[fd00::1]:8080", "[fd00::2]:8080"})

	entry := table.Lookup("a.example.com", 443)
	require.NotNil(t, entry)
	entry.Pool.MarkUnhealthy("[fd00::1]:8080")

	table.Upsert(testRoute("r1", "a.example.com", 443),
		[]string{"[fd00::1]:8080", "[fd00::2]:8080"})

	after := table.Lookup("a.example.com", 443)
	require.NotNil(t, after)
	assert.Same(t, entry.Pool, after.Pool)
	assert.Equal(t, "[fd00::2]:8080", after.Pool.Pick())
}

func TestRouteTableUpsertMovesRoute(t *testing.T) {
	table := NewRouteTable()
	table.Upsert(testRoute("r1", "a.example.com", 443), []string{"[fd00::1]:8080"})

	// rehosted route: the old slot must not linger
	table.Upsert(testRoute("r1", "b.example.com", 443), []string{"[fd00::1]:8080"})

	assert.Equal(t, 1, table.Len())
	assert.Nil(t, table.Lookup("a.example.com", 443))
	assert.NotNil(t, table.Lookup("b.example.com", 443))
}

func TestRouteTableRemove(t *testing.T) {
	table := NewRouteTable()
	table.Upsert(testRoute("r1", "a.example.com", 443), nil)
	table.Upsert(testRoute("r2", "b.example.com", 443), nil)

	table.Remove("r1")
	assert.Equal(t, 1, table.Len())
	assert.Nil(t, table.Lookup("a.example.com", 443))
	assert.NotNil(t, table.Lookup("b.example.com", 443))

	table.Remove("absent")
	assert.Equal(t, 1, table.Len())
}
