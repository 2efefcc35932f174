package nodeapi

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/plfm/plfm/pkg/types"
)

func TestCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	in := &EnrollRequest{
		EnrollToken:     "tok",
		WireGuardPubKey: "wg-pub",
		Arch:            "arm64",
		CPUCores:        8,
		MemoryBytes:     16 << 30,
		Labels:          map[string]string{"zone": "a"},
	}

	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(EnrollRequest)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, in, out)
}

func TestCodecName(t *testing.T) {
	assert.Equal(t, "json", jsonCodec{}.Name())
}

func TestCodecUnmarshalGarbage(t *testing.T) {
	err := jsonCodec{}.Unmarshal([]byte("{nope"), new(PlanRequest))
	assert.Error(t, err)
}

func TestRPCErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("node: %w", types.ErrNotFound), codes.NotFound},
		{fmt.Errorf("arch: %w", types.ErrBadRequest), codes.InvalidArgument},
		{fmt.Errorf("role: %w", types.ErrForbidden), codes.PermissionDenied},
		{fmt.Errorf("token: %w", types.ErrUnauthorized), codes.Unauthenticated},
		{fmt.Errorf("token: %w", types.ErrTokenRevoked), codes.Unauthenticated},
		{fmt.Errorf("boom"), codes.Internal},
	}
	for _, tc := range cases {
		st, ok := status.FromError(rpcError(tc.err))
		require.True(t, ok)
		assert.Equal(t, tc.code, st.Code(), tc.err.Error())
	}
}

func TestServiceDescShape(t *testing.T) {
	assert.Equal(t, ServiceName, nodeAgentServiceDesc.ServiceName)
	assert.Len(t, nodeAgentServiceDesc.Methods, 5)
	require.Len(t, nodeAgentServiceDesc.Streams, 1)
	assert.True(t, nodeAgentServiceDesc.Streams[0].ClientStreams)
	assert.False(t, nodeAgentServiceDesc.Streams[0].ServerStreams)
}
