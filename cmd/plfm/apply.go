package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/plfm/plfm/pkg/client"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a resource manifest",
	Long: `Apply a plfm resource from a YAML manifest.

Examples:
  # Register a release
  plfm apply -f release.yaml

  # Expose an environment on a hostname
  plfm apply -f route.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Manifest is a generic plfm resource document
type Manifest struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ManifestMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ManifestMetadata struct {
	Org string `yaml:"org"`
	App string `yaml:"app,omitempty"`
	Env string `yaml:"env,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	cfg, err := configFromEnvForClient()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %v", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse manifest: %v", err)
	}
	if m.Metadata.Org == "" {
		return fmt.Errorf("metadata.org is required")
	}

	c := client.New(cfg.baseURL, cfg.token)

	switch m.Kind {
	case "Release":
		return applyRelease(cmd, c, &m)
	case "Deploy":
		return applyDeploy(cmd, c, &m)
	case "Route":
		return applyRoute(cmd, c, &m)
	case "Secrets":
		return applySecrets(cmd, c, &m)
	case "Volume":
		return applyVolume(cmd, c, &m)
	case "Scale":
		return applyScale(cmd, c, &m)
	default:
		return fmt.Errorf("unsupported resource kind: %s", m.Kind)
	}
}

type clientConfig struct {
	baseURL string
	token   string
}

func configFromEnvForClient() (*clientConfig, error) {
	baseURL := os.Getenv("PLFM_CONTROL_PLANE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	token := os.Getenv("PLFM_API_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("PLFM_API_TOKEN is required")
	}
	return &clientConfig{baseURL: baseURL, token: token}, nil
}

func applyRelease(cmd *cobra.Command, c *client.Client, m *Manifest) error {
	if m.Metadata.App == "" {
		return fmt.Errorf("metadata.app is required for Release")
	}
	if getString(m.Spec, "imageRef", "") == "" {
		return fmt.Errorf("spec.imageRef is required")
	}

	receipt, err := c.CreateRelease(cmd.Context(), m.Metadata.Org, m.Metadata.App, m.Spec)
	if err != nil {
		return fmt.Errorf("create release: %v", err)
	}
	printReceipt("Release", receipt, "releaseId")
	return nil
}

func applyDeploy(cmd *cobra.Command, c *client.Client, m *Manifest) error {
	if m.Metadata.App == "" || m.Metadata.Env == "" {
		return fmt.Errorf("metadata.app and metadata.env are required for Deploy")
	}
	releaseID := getString(m.Spec, "releaseId", "")
	if releaseID == "" {
		return fmt.Errorf("spec.releaseId is required")
	}

	receipt, err := c.CreateDeploy(cmd.Context(), m.Metadata.Org, m.Metadata.App, m.Metadata.Env, releaseID)
	if err != nil {
		return fmt.Errorf("create deploy: %v", err)
	}
	printReceipt("Deploy", receipt, "deployId")
	return nil
}

func applyRoute(cmd *cobra.Command, c *client.Client, m *Manifest) error {
	if m.Metadata.App == "" || m.Metadata.Env == "" {
		return fmt.Errorf("metadata.app and metadata.env are required for Route")
	}
	if getString(m.Spec, "hostname", "") == "" {
		return fmt.Errorf("spec.hostname is required")
	}

	receipt, err := c.CreateRoute(cmd.Context(), m.Metadata.Org, m.Metadata.App, m.Metadata.Env, m.Spec)
	if err != nil {
		return fmt.Errorf("create route: %v", err)
	}
	printReceipt("Route", receipt, "routeId")
	return nil
}

func applySecrets(cmd *cobra.Command, c *client.Client, m *Manifest) error {
	if m.Metadata.App == "" || m.Metadata.Env == "" {
		return fmt.Errorf("metadata.app and metadata.env are required for Secrets")
	}

	values := make(map[string]string)
	if raw, ok := m.Spec["values"].(map[string]interface{}); ok {
		for k, v := range raw {
			values[k] = fmt.Sprintf("%v", v)
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("spec.values is required")
	}

	receipt, err := c.PutSecrets(cmd.Context(), m.Metadata.Org, m.Metadata.App, m.Metadata.Env, values)
	if err != nil {
		return fmt.Errorf("set secrets: %v", err)
	}
	printReceipt("Secrets", receipt, "versionId")
	return nil
}

func applyVolume(cmd *cobra.Command, c *client.Client, m *Manifest) error {
	if m.Metadata.App == "" || m.Metadata.Env == "" {
		return fmt.Errorf("metadata.app and metadata.env are required for Volume")
	}
	if getString(m.Spec, "name", "") == "" {
		return fmt.Errorf("spec.name is required")
	}

	receipt, err := c.CreateVolume(cmd.Context(), m.Metadata.Org, m.Metadata.App, m.Metadata.Env, m.Spec)
	if err != nil {
		return fmt.Errorf("create volume: %v", err)
	}
	printReceipt("Volume", receipt, "volumeId")
	return nil
}

func applyScale(cmd *cobra.Command, c *client.Client, m *Manifest) error {
	if m.Metadata.App == "" || m.Metadata.Env == "" {
		return fmt.Errorf("metadata.app and metadata.env are required for Scale")
	}
	processType := getString(m.Spec, "processType", "web")
	replicas := getInt(m.Spec, "replicas", 1)

	receipt, err := c.ScaleEnv(cmd.Context(), m.Metadata.Org, m.Metadata.App, m.Metadata.Env, processType, replicas)
	if err != nil {
		return fmt.Errorf("scale env: %v", err)
	}
	fmt.Printf("✓ Scaled %s to %d replicas (event %d)\n", processType, replicas, receipt.EventID)
	return nil
}

func printReceipt(kind string, receipt *client.Receipt, idKey string) {
	id := receipt.IDs[idKey]
	if receipt.Replayed {
		fmt.Printf("✓ %s unchanged: %s (event %d)\n", kind, id, receipt.EventID)
		return
	}
	fmt.Printf("✓ %s applied: %s (event %d)\n", kind, id, receipt.EventID)
}

func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]interface{}, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultValue
}
