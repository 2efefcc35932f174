package edgesync

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfm/plfm/pkg/ingress"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fakeSource struct {
	state   *State
	changes []RouteChange
	err     error
	calls   int
	tails   int
}

func (f *fakeSource) Snapshot(ctx context.Context) (*State, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func (f *fakeSource) RouteChanges(ctx context.Context, afterEventID int64, limit int) ([]RouteChange, error) {
	f.tails++
	if f.err != nil {
		return nil, f.err
	}
	var out []RouteChange
	for _, c := range f.changes {
		if c.EventID > afterEventID {
			out = append(out, c)
		}
	}
	return out, nil
}

func testState(cursor int64) *State {
	return &State{
		Cursor: cursor,
		Routes: []RouteState{{
			Route: &types.Route{
				RouteID:            "rt_1",
				EnvID:              "env_1",
				Hostname:           "app.example.com",
				ListenPort:         443,
				BackendProcessType: "web",
				BackendPort:        8080,
			},
			Backends: []string{"[fd00::10]:8080", "[fd00::11]:8080"},
		}},
	}
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	want := testState(42)

	require.NoError(t, SaveState(path, want))

	got, err := LoadState(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.Cursor)
	require.Len(t, got.Routes, 1)
	assert.Equal(t, "app.example.com", got.Routes[0].Route.Hostname)
	assert.Equal(t, want.Routes[0].Backends, got.Routes[0].Backends)
}

func TestLoadStateMissingFile(t *testing.T) {
	got, err := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadStateCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadState(path)
	assert.Error(t, err)
}

func TestSaveStateLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.json")
	require.NoError(t, SaveState(path, testState(1)))
	require.NoError(t, SaveState(path, testState(2)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "routes.json", entries[0].Name())
}

func TestSyncOnceAppliesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	table := ingress.NewRouteTable()
	src := &fakeSource{state: testState(7)}
	s := NewSyncer(src, table, path)

	require.NoError(t, s.SyncOnce(context.Background()))

	assert.Equal(t, int64(7), s.Cursor())
	entry := table.Lookup("app.example.com", 443)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Pool.Size())

	persisted, err := LoadState(path)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, int64(7), persisted.Cursor)
}

func TestSyncOnceSkipsStaleCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	table := ingress.NewRouteTable()
	src := &fakeSource{state: testState(7)}
	s := NewSyncer(src, table, path)

	require.NoError(t, s.SyncOnce(context.Background()))

	// Same cursor again: the table must not be rebuilt
	before := table.Lookup("app.example.com", 443)
	require.NoError(t, s.SyncOnce(context.Background()))
	after := table.Lookup("app.example.com", 443)
	assert.Same(t, before, after)
}

func TestSyncOnceSourceErrorKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	table := ingress.NewRouteTable()
	src := &fakeSource{state: testState(3)}
	s := NewSyncer(src, table, path)
	require.NoError(t, s.SyncOnce(context.Background()))

	src.err = errors.New("control plane unreachable")
	err := s.SyncOnce(context.Background())
	assert.Error(t, err)

	assert.Equal(t, int64(3), s.Cursor())
	assert.NotNil(t, table.Lookup("app.example.com", 443))
}

func TestSyncIncrementalUpsertsRoute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	table := ingress.NewRouteTable()
	src := &fakeSource{state: testState(7)}
	s := NewSyncer(src, table, path)
	require.NoError(t, s.SyncOnce(context.Background()))

	src.changes = []RouteChange{{
		EventID: 8,
		RouteID: "rt_2",
		Route: &types.Route{
			RouteID:            "rt_2",
			EnvID:              "env_1",
			Hostname:           "api.example.com",
			ListenPort:         443,
			BackendProcessType: "web",
			BackendPort:        8080,
		},
		Backends: []string{"[fd00::20]:8080"},
	}}
	require.NoError(t, s.SyncOnce(context.Background()))

	// the new route lands without a snapshot refetch
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, int64(8), s.Cursor())
	assert.NotNil(t, table.Lookup("app.example.com", 443))
	assert.NotNil(t, table.Lookup("api.example.com", 443))

	persisted, err := LoadState(path)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, int64(8), persisted.Cursor)
	assert.Len(t, persisted.Routes, 2)
}

func TestSyncIncrementalRemovesRoute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	table := ingress.NewRouteTable()
	src := &fakeSource{state: testState(7)}
	s := NewSyncer(src, table, path)
	require.NoError(t, s.SyncOnce(context.Background()))
	require.NotNil(t, table.Lookup("app.example.com", 443))

	src.changes = []RouteChange{{EventID: 9, RouteID: "rt_1", Deleted: true}}
	require.NoError(t, s.SyncOnce(context.Background()))

	assert.Equal(t, int64(9), s.Cursor())
	assert.Nil(t, table.Lookup("app.example.com", 443))
	assert.Equal(t, 0, table.Len())
}

func TestSyncIncrementalNoChangesIsQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	table := ingress.NewRouteTable()
	src := &fakeSource{state: testState(7)}
	s := NewSyncer(src, table, path)
	require.NoError(t, s.SyncOnce(context.Background()))

	before := table.Lookup("app.example.com", 443)
	require.NoError(t, s.SyncOnce(context.Background()))
	assert.Same(t, before, table.Lookup("app.example.com", 443))
	assert.Equal(t, int64(7), s.Cursor())
}

func TestSyncPeriodicResyncRefreshesBackends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	table := ingress.NewRouteTable()
	src := &fakeSource{state: testState(7)}
	s := NewSyncer(src, table, path)

	for i := 0; i <= resyncEvery; i++ {
		require.NoError(t, s.SyncOnce(context.Background()))
	}

	// one snapshot on cold start, one scheduled resync
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, resyncEvery-1, src.tails)
}

func TestRestorePopulatesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	require.NoError(t, SaveState(path, testState(12)))

	table := ingress.NewRouteTable()
	s := NewSyncer(&fakeSource{}, table, path)
	require.NoError(t, s.Restore())

	assert.Equal(t, int64(12), s.Cursor())
	assert.NotNil(t, table.Lookup("app.example.com", 443))
}

func TestRestoreNoFileIsNoop(t *testing.T) {
	table := ingress.NewRouteTable()
	s := NewSyncer(&fakeSource{}, table, filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, s.Restore())
	assert.Equal(t, int64(0), s.Cursor())
	assert.Equal(t, 0, table.Len())
}
