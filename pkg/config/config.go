package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds all environment-driven settings, parsed once at process
// start and passed down explicitly.
type Config struct {
	DatabaseURL string

	SecretsMasterKey []byte // 32 bytes

	AccessTokenCacheTTL        time.Duration
	AccessTokenCacheMaxEntries int

	ProjectionWaitTimeout time.Duration

	NodeIPv6Prefix     net.IP
	InstanceIPv6Prefix net.IP
	NodeExecPort       int

	SchedulerInterval time.Duration

	APIListenAddr     string
	GRPCListenAddr    string
	MetricsListenAddr string
	NodeEnrollToken   string

	// Edge settings
	IngressPorts    []int
	EdgeStatePath   string
	ControlPlaneURL string
	APIToken        string

	// Agent settings
	NodeAPIAddr     string
	AgentDataDir    string
	SecretsDir      string
	WireGuardPubKey string
	NodeArch        string
	NodeCPUCores    float64
	NodeMemoryBytes int64
}

// Defaults mirrors the documented PLFM_* defaults
func Defaults() *Config {
	return &Config{
		AccessTokenCacheTTL:        30 * time.Second,
		AccessTokenCacheMaxEntries: 10000,
		ProjectionWaitTimeout:      15 * time.Second,
		NodeIPv6Prefix:             net.ParseIP("fd00:0:0:1::"),
		InstanceIPv6Prefix:         net.ParseIP("fd00::"),
		NodeExecPort:               5090,
		SchedulerInterval:          30 * time.Second,
		APIListenAddr:              ":8080",
		GRPCListenAddr:             ":9090",
		MetricsListenAddr:          ":9100",
		IngressPorts:               []int{443},
		EdgeStatePath:              "/var/lib/plfm/routes.json",
		AgentDataDir:               "/var/lib/plfm-agent",
		SecretsDir:                 "/run/secrets",
		NodeArch:                   runtime.GOARCH,
		NodeCPUCores:               float64(runtime.NumCPU()),
	}
}

// FromEnv builds a Config from PLFM_-prefixed environment variables,
// falling back to defaults for anything unset.
func FromEnv() (*Config, error) {
	cfg := Defaults()

	cfg.DatabaseURL = os.Getenv("PLFM_DATABASE_URL")

	if v := os.Getenv("PLFM_SECRETS_MASTER_KEY"); v != "" {
		key, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("PLFM_SECRETS_MASTER_KEY: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("PLFM_SECRETS_MASTER_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.SecretsMasterKey = key
	}

	if v := os.Getenv("PLFM_ACCESS_TOKEN_CACHE_TTL_SECS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PLFM_ACCESS_TOKEN_CACHE_TTL_SECS: %w", err)
		}
		cfg.AccessTokenCacheTTL = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("PLFM_ACCESS_TOKEN_CACHE_MAX_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PLFM_ACCESS_TOKEN_CACHE_MAX_ENTRIES: %w", err)
		}
		cfg.AccessTokenCacheMaxEntries = n
	}

	if v := os.Getenv("PLFM_PROJECTION_WAIT_TIMEOUT_SECS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PLFM_PROJECTION_WAIT_TIMEOUT_SECS: %w", err)
		}
		cfg.ProjectionWaitTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("PLFM_NODE_IPV6_PREFIX"); v != "" {
		ip := net.ParseIP(v)
		if ip == nil {
			return nil, fmt.Errorf("PLFM_NODE_IPV6_PREFIX: invalid address %q", v)
		}
		cfg.NodeIPv6Prefix = ip
	}

	if v := os.Getenv("PLFM_INSTANCE_IPV6_PREFIX"); v != "" {
		ip := net.ParseIP(v)
		if ip == nil {
			return nil, fmt.Errorf("PLFM_INSTANCE_IPV6_PREFIX: invalid address %q", v)
		}
		cfg.InstanceIPv6Prefix = ip
	}

	if v := os.Getenv("PLFM_NODE_EXEC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PLFM_NODE_EXEC_PORT: %w", err)
		}
		cfg.NodeExecPort = port
	}

	if v := os.Getenv("PLFM_SCHEDULER_INTERVAL_SECS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PLFM_SCHEDULER_INTERVAL_SECS: %w", err)
		}
		cfg.SchedulerInterval = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("PLFM_API_ADDR"); v != "" {
		cfg.APIListenAddr = v
	}
	if v := os.Getenv("PLFM_GRPC_ADDR"); v != "" {
		cfg.GRPCListenAddr = v
	}
	if v := os.Getenv("PLFM_METRICS_ADDR"); v != "" {
		cfg.MetricsListenAddr = v
	}
	cfg.NodeEnrollToken = os.Getenv("PLFM_NODE_ENROLL_TOKEN")

	if v := os.Getenv("PLFM_INGRESS_PORTS"); v != "" {
		ports, err := parsePorts(v)
		if err != nil {
			return nil, fmt.Errorf("PLFM_INGRESS_PORTS: %w", err)
		}
		cfg.IngressPorts = ports
	}
	if v := os.Getenv("PLFM_EDGE_STATE_FILE"); v != "" {
		cfg.EdgeStatePath = v
	}
	cfg.ControlPlaneURL = os.Getenv("PLFM_CONTROL_PLANE_URL")
	cfg.APIToken = os.Getenv("PLFM_API_TOKEN")

	cfg.NodeAPIAddr = os.Getenv("PLFM_NODEAPI_ADDR")
	if v := os.Getenv("PLFM_AGENT_DATA_DIR"); v != "" {
		cfg.AgentDataDir = v
	}
	if v := os.Getenv("PLFM_SECRETS_DIR"); v != "" {
		cfg.SecretsDir = v
	}
	cfg.WireGuardPubKey = os.Getenv("PLFM_WIREGUARD_PUB_KEY")
	if v := os.Getenv("PLFM_NODE_ARCH"); v != "" {
		cfg.NodeArch = v
	}
	if v := os.Getenv("PLFM_NODE_CPU_CORES"); v != "" {
		cores, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("PLFM_NODE_CPU_CORES: %w", err)
		}
		cfg.NodeCPUCores = cores
	}
	if v := os.Getenv("PLFM_NODE_MEMORY_BYTES"); v != "" {
		b, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("PLFM_NODE_MEMORY_BYTES: %w", err)
		}
		cfg.NodeMemoryBytes = b
	}

	return cfg, nil
}

// parsePorts parses a comma-separated port list like "443,5432"
func parsePorts(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	ports := make([]int, 0, len(parts))
	for _, p := range parts {
		port, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		ports = append(ports, port)
	}
	return ports, nil
}
