package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/plfm/plfm/pkg/edgesync"
	"github.com/plfm/plfm/pkg/types"
)

const defaultTimeout = 30 * time.Second

// Client talks to the control plane HTTP API
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the given base URL, e.g. http://cp:8080
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Receipt mirrors the API's mutation envelope
type Receipt struct {
	Kind     string            `json:"kind"`
	Status   string            `json:"status"`
	IDs      map[string]string `json:"ids"`
	EventID  int64             `json:"eventId"`
	Replayed bool              `json:"replayed"`
}

// APIError is a decoded error envelope
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"requestId"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (request %s)", e.Code, e.Message, e.RequestID)
}

// do runs one request and decodes the response into out when non-nil
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Code = "internal_error"
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateOrg creates an org and returns its receipt
func (c *Client) CreateOrg(ctx context.Context, name string) (*Receipt, error) {
	var receipt Receipt
	err := c.do(ctx, "POST", "/v1/orgs", map[string]string{"name": name}, &receipt)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// GetOrg fetches one org view
func (c *Client) GetOrg(ctx context.Context, orgID string) (*types.Org, error) {
	var org types.Org
	if err := c.do(ctx, "GET", "/v1/orgs/"+orgID, nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// Snapshot implements edgesync.Source over the HTTP API
func (c *Client) Snapshot(ctx context.Context) (*edgesync.State, error) {
	var state edgesync.State
	if err := c.do(ctx, "GET", "/v1/edge/routing", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// RouteChanges implements edgesync.Source for incremental sync
func (c *Client) RouteChanges(ctx context.Context, afterEventID int64, limit int) ([]edgesync.RouteChange, error) {
	var out struct {
		Items []edgesync.RouteChange `json:"items"`
	}
	path := fmt.Sprintf("/v1/edge/routing/events?after_event_id=%d&limit=%d", afterEventID, limit)
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListNodes returns the node fleet
func (c *Client) ListNodes(ctx context.Context) ([]*types.Node, error) {
	var out struct {
		Items []*types.Node `json:"items"`
	}
	if err := c.do(ctx, "GET", "/v1/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateRelease registers an image release for an app
func (c *Client) CreateRelease(ctx context.Context, orgID, appID string, spec map[string]interface{}) (*Receipt, error) {
	var receipt Receipt
	path := fmt.Sprintf("/v1/orgs/%s/apps/%s/releases", orgID, appID)
	if err := c.do(ctx, "POST", path, spec, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// CreateDeploy rolls a release out to an environment
func (c *Client) CreateDeploy(ctx context.Context, orgID, appID, envID, releaseID string) (*Receipt, error) {
	var receipt Receipt
	path := fmt.Sprintf("/v1/orgs/%s/apps/%s/envs/%s/deploys", orgID, appID, envID)
	if err := c.do(ctx, "POST", path, map[string]string{"releaseId": releaseID}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// CreateRoute exposes an env process on a hostname and port
func (c *Client) CreateRoute(ctx context.Context, orgID, appID, envID string, spec map[string]interface{}) (*Receipt, error) {
	var receipt Receipt
	path := fmt.Sprintf("/v1/orgs/%s/apps/%s/envs/%s/routes", orgID, appID, envID)
	if err := c.do(ctx, "POST", path, spec, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// PutSecrets replaces an env's secret bundle
func (c *Client) PutSecrets(ctx context.Context, orgID, appID, envID string, values map[string]string) (*Receipt, error) {
	var receipt Receipt
	path := fmt.Sprintf("/v1/orgs/%s/apps/%s/envs/%s/secrets", orgID, appID, envID)
	if err := c.do(ctx, "POST", path, map[string]interface{}{"values": values}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// CreateVolume provisions persistent storage in an env
func (c *Client) CreateVolume(ctx context.Context, orgID, appID, envID string, spec map[string]interface{}) (*Receipt, error) {
	var receipt Receipt
	path := fmt.Sprintf("/v1/orgs/%s/apps/%s/envs/%s/volumes", orgID, appID, envID)
	if err := c.do(ctx, "POST", path, spec, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ScaleEnv sets the replica target for one process type
func (c *Client) ScaleEnv(ctx context.Context, orgID, appID, envID, processType string, replicas int) (*Receipt, error) {
	var receipt Receipt
	path := fmt.Sprintf("/v1/orgs/%s/apps/%s/envs/%s/scale", orgID, appID, envID)
	body := map[string]interface{}{"processType": processType, "replicas": replicas}
	if err := c.do(ctx, "POST", path, body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// EnableIPv4 claims a dedicated IPv4 address for an env
func (c *Client) EnableIPv4(ctx context.Context, orgID, appID, envID string) (*Receipt, error) {
	var receipt Receipt
	path := fmt.Sprintf("/v1/orgs/%s/apps/%s/envs/%s/ipv4", orgID, appID, envID)
	if err := c.do(ctx, "POST", path, nil, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// DeviceAuthStart begins a CLI device login
func (c *Client) DeviceAuthStart(ctx context.Context) (deviceCode, userCode string, err error) {
	var out struct {
		DeviceCode string `json:"deviceCode"`
		UserCode   string `json:"userCode"`
	}
	if err := c.do(ctx, "POST", "/v1/auth/device/start", nil, &out); err != nil {
		return "", "", err
	}
	return out.DeviceCode, out.UserCode, nil
}

// DeviceAuthToken polls for the approved token and installs it on the
// client when issued.
func (c *Client) DeviceAuthToken(ctx context.Context, deviceCode, orgID string) (string, error) {
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	err := c.do(ctx, "POST", "/v1/auth/device/token",
		map[string]string{"deviceCode": deviceCode, "orgId": orgID}, &out)
	if err != nil {
		return "", err
	}
	c.token = out.AccessToken
	return out.AccessToken, nil
}
