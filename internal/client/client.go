package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gatenode-ai/gatenode/internal/config"
	"github.com/gatenode-ai/gatenode/internal/config/store"
	"github.com/gatenode-ai/gatenode/internal/daemon"
	"github.com/gatenode-ai/gatenode/internal/profile"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 8 << 10
)

// Environment overrides consumed by New.
const (
	EnvAPIURL   = "GATENODE_API_URL"
	EnvAPIToken = "GATENODE_API_TOKEN"
)

// ErrDaemonUnreachable indicates no daemon answered at the resolved address.
var ErrDaemonUnreachable = errors.New("client: daemon unreachable")

// ErrUnauthorized indicates the daemon rejected the supplied credentials.
var ErrUnauthorized = errors.New("client: unauthorized")

// Client talks to a running daemon over its HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Options configure a Client. Zero values resolve from the environment and
// the local instance store.
type Options struct {
	BaseURL      string
	Token        string
	InstanceName string
	Transport    http.RoundTripper
}

// New builds a client. The base URL comes from Options, then the
// environment, then the saved client profile, then the listen address
// persisted in the local config store. The token resolves the same way,
// minus the store fallback.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv(EnvAPIURL))
	}

	token := strings.TrimSpace(opts.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(EnvAPIToken))
	}

	if baseURL == "" || token == "" {
		if saved, err := profile.Load(opts.InstanceName); err == nil && saved != nil {
			if baseURL == "" {
				baseURL = strings.TrimSpace(saved.BaseURL)
			}
			if token == "" {
				token = strings.TrimSpace(saved.APIToken)
			}
		}
	}

	if baseURL == "" {
		addr, err := resolveLocalAddress(opts.InstanceName)
		if err != nil {
			return nil, err
		}
		baseURL = "http://" + addr
	}

	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	if opts.Transport != nil {
		httpClient.Transport = opts.Transport
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}, nil
}

// resolveLocalAddress reads the persisted listen address from the instance
// store without taking the writer slot.
func resolveLocalAddress(instanceName string) (string, error) {
	paths := config.GetInstancePaths(instanceName)
	st, err := store.Open(store.Options{
		InstanceName: instanceName,
		DBPath:       paths.ConfigDB,
		ReadOnly:     true,
	})
	if err != nil {
		return config.DefaultSettings().Server.ListenAddress(), nil
	}
	defer st.Close()

	settings, err := st.LoadNodeSettings(context.Background())
	if err != nil {
		return config.DefaultSettings().Server.ListenAddress(), nil
	}
	host := settings.Server.Host
	if host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
		settings.Server.Host = host
	}
	return settings.Server.ListenAddress(), nil
}

// BaseURL returns the resolved base HTTP URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StatusResult is the daemon status snapshot plus the daemon build version.
type StatusResult struct {
	daemon.DaemonStatus
	Version string `json:"version"`
}

// Status fetches the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (StatusResult, error) {
	var status StatusResult
	err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

// BootstrapStatus reports whether the node still needs its first user.
type BootstrapStatus struct {
	NeedsBootstrap bool `json:"needs_bootstrap"`
	UserCount      int  `json:"user_count"`
}

// GetBootstrapStatus fetches the bootstrap gate state.
func (c *Client) GetBootstrapStatus(ctx context.Context) (BootstrapStatus, error) {
	var status BootstrapStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/auth/bootstrap/status", nil, &status)
	return status, err
}

// BootstrapResult is the response of a successful first-user creation.
type BootstrapResult struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// CreateFirstUser performs the one-time node bootstrap and returns the
// initial admin API token.
func (c *Client) CreateFirstUser(ctx context.Context, name, password string) (BootstrapResult, error) {
	payload := map[string]string{"name": name, "password": password}
	var result BootstrapResult
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/bootstrap/first-user", payload, &result)
	return result, err
}

// GetConfig fetches the node settings visible to the configured token.
func (c *Client) GetConfig(ctx context.Context) (config.Settings, error) {
	var settings config.Settings
	err := c.doJSON(ctx, http.MethodGet, "/api/config", nil, &settings)
	return settings, err
}

// UpdateConfig replaces the node settings.
func (c *Client) UpdateConfig(ctx context.Context, settings config.Settings) error {
	return c.doJSON(ctx, http.MethodPut, "/api/config", settings, nil)
}

// RestartDaemon restarts the daemon's subsystems in order.
func (c *Client) RestartDaemon(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/daemon/restart", nil, nil)
}

// ShutdownDaemon requests a graceful daemon shutdown.
func (c *Client) ShutdownDaemon(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/daemon/shutdown", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, into any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthorized, readAPIError(resp))
	default:
		return fmt.Errorf("client: %s %s: %w", method, path, readAPIError(resp))
	}

	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) == 0 {
		return errors.New(resp.Status)
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				return errors.New(msg)
			}
		}
	}
	return errors.New(trimmed)
}
