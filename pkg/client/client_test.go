package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	_, err := c.ListNodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"code": "not_found", "message": "org missing", "requestId": "req-9",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.GetOrg(context.Background(), "o1")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, "not_found", apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.HTTPStatus)
	assert.Contains(t, apiErr.Error(), "req-9")
}

func TestSnapshotDecodesState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/edge/routing", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"cursor": 17,
			"routes": []map[string]interface{}{},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	state, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(17), state.Cursor)
}

func TestDeviceAuthTokenInstallsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"accessToken": "plfm_new"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	token, err := c.DeviceAuthToken(context.Background(), "dc", "org1")
	require.NoError(t, err)
	assert.Equal(t, "plfm_new", token)
	assert.Equal(t, "plfm_new", c.token)
}
