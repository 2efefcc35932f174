package eventlog

import (
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfm/plfm/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	r := NewRegistry()
	r.Register("test.created", Schema{
		Known:    []string{"alpha", "beta", "gamma"},
		Required: []string{"alpha"},
	})

	out, err := r.Canonicalize("test.created", []byte(`{"gamma":3,"alpha":1,"beta":2}`))
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":1,"beta":2,"gamma":3}`, string(out))
}

func TestCanonicalizeDropsUnknownFields(t *testing.T) {
	r := NewRegistry()
	r.Register("test.created", Schema{Known: []string{"name"}, Required: []string{"name"}})

	out, err := r.Canonicalize("test.created", []byte(`{"name":"x","bogus":true}`))
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Contains(t, decoded, "name")
	assert.NotContains(t, decoded, "bogus")
}

func TestCanonicalizeMissingRequired(t *testing.T) {
	r := NewRegistry()
	r.Register("test.created", Schema{Known: []string{"name", "extra"}, Required: []string{"name"}})

	_, err := r.Canonicalize("test.created", []byte(`{"extra":"y"}`))
	assert.Error(t, err)
}

func TestCanonicalizeUnregisteredType(t *testing.T) {
	r := NewRegistry()

	_, err := r.Canonicalize("nobody.knows", []byte(`{}`))
	assert.Error(t, err)
}

func TestCanonicalizeStable(t *testing.T) {
	r := DefaultRegistry()

	raw := []byte(`{"name":"acme"}`)
	a, err := r.Canonicalize("org.created", raw)
	require.NoError(t, err)
	b, err := r.Canonicalize("org.created", raw)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDefaultRegistryCoversCoreTypes(t *testing.T) {
	r := DefaultRegistry()
	known := r.KnownTypes()

	for _, et := range []string{
		"org.created", "app.created", "env.created", "release.created",
		"deploy.created", "route.created", "secret_bundle.created",
		"instance.allocated", "instance.desired_state_changed",
		"instance.status_changed", "node.enrolled",
	} {
		assert.Contains(t, known, et)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register("x.y", Schema{})
	assert.Panics(t, func() { r.Register("x.y", Schema{}) })
}
