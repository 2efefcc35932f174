package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 30*time.Second, cfg.AccessTokenCacheTTL)
	assert.Equal(t, 10000, cfg.AccessTokenCacheMaxEntries)
	assert.Equal(t, 15*time.Second, cfg.ProjectionWaitTimeout)
	assert.Equal(t, 5090, cfg.NodeExecPort)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
	assert.NotNil(t, cfg.NodeIPv6Prefix)
	assert.NotNil(t, cfg.InstanceIPv6Prefix)
	assert.Equal(t, ":8080", cfg.APIListenAddr)
	assert.Equal(t, ":9090", cfg.GRPCListenAddr)
	assert.Equal(t, []int{443}, cfg.IngressPorts)
}

func TestFromEnvIngressPorts(t *testing.T) {
	t.Setenv("PLFM_INGRESS_PORTS", "443,8443")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []int{443, 8443}, cfg.IngressPorts)
}

func TestFromEnvBadIngressPorts(t *testing.T) {
	t.Setenv("PLFM_INGRESS_PORTS", "443,nope")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnvOverrides(t *testing.T) {
	key := make([]byte, 32)
	t.Setenv("PLFM_SECRETS_MASTER_KEY", base64.StdEncoding.EncodeToString(key))
	t.Setenv("PLFM_PROJECTION_WAIT_TIMEOUT_SECS", "5")
	t.Setenv("PLFM_NODE_EXEC_PORT", "6000")
	t.Setenv("PLFM_INSTANCE_IPV6_PREFIX", "fd99::")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Len(t, cfg.SecretsMasterKey, 32)
	assert.Equal(t, 5*time.Second, cfg.ProjectionWaitTimeout)
	assert.Equal(t, 6000, cfg.NodeExecPort)
	assert.Equal(t, "fd99::", cfg.InstanceIPv6Prefix.String())
}

func TestFromEnvBadKey(t *testing.T) {
	t.Setenv("PLFM_SECRETS_MASTER_KEY", "dG9vc2hvcnQ=")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnvBadPrefix(t *testing.T) {
	t.Setenv("PLFM_NODE_IPV6_PREFIX", "not-an-ip")

	_, err := FromEnv()
	assert.Error(t, err)
}
