// Package devtools provides a client for a remote browser's DevTools HTTP endpoint.
package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Client reports on a remote browser.
type Client interface {
	// Version returns the browser identification served at /json/version.
	Version(ctx context.Context) (*VersionInfo, error)

	// IsHealthy returns true if the remote browser answered its last health check.
	IsHealthy() bool

	// Close releases resources.
	Close()
}

// VersionInfo is the /json/version payload.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version"`
	WebKitVersion        string `json:"WebKit-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ClientConfig contains configuration for the DevTools client.
type ClientConfig struct {
	// BaseURL is the DevTools endpoint; ws:// and wss:// URLs are accepted.
	BaseURL        string
	Timeout        time.Duration
	HealthInterval time.Duration
	HealthTimeout  time.Duration
}

// DefaultClientConfig returns default DevTools client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "http://localhost:9222",
		Timeout:        10 * time.Second,
		HealthInterval: 5 * time.Second,
		HealthTimeout:  3 * time.Second,
	}
}

// HTTPBase converts a DevTools endpoint into the HTTP origin serving /json.
func HTTPBase(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid devtools url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid devtools url %q: unsupported scheme", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid devtools url %q: missing host", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// HTTPClient implements Client over the DevTools HTTP endpoints.
type HTTPClient struct {
	config       *ClientConfig
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	healthy      atomic.Bool
	healthCtx    context.Context
	healthCancel context.CancelFunc
	healthWg     sync.WaitGroup
}

// NewHTTPClient creates a new DevTools client and starts its health loop.
func NewHTTPClient(config *ClientConfig, logger *slog.Logger) (*HTTPClient, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, err := HTTPBase(config.BaseURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	client := &HTTPClient{
		config:  config,
		baseURL: base,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:       logger.With("component", "devtools", "endpoint", base),
		healthCtx:    ctx,
		healthCancel: cancel,
	}

	// Perform initial health check
	client.performHealthCheck()

	// Start background health check loop
	client.healthWg.Add(1)
	go client.healthCheckLoop()

	return client, nil
}

// Version returns the browser identification served at /json/version.
func (c *HTTPClient) Version(ctx context.Context) (*VersionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/json/version", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var info VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &info, nil
}

// IsHealthy returns true if the remote browser is available.
func (c *HTTPClient) IsHealthy() bool {
	return c.healthy.Load()
}

// Close releases resources.
func (c *HTTPClient) Close() {
	if c.healthCancel != nil {
		c.healthCancel()
	}
	c.healthWg.Wait()
}

func (c *HTTPClient) healthCheckLoop() {
	defer c.healthWg.Done()

	ticker := time.NewTicker(c.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.healthCtx.Done():
			return
		case <-ticker.C:
			c.performHealthCheck()
		}
	}
}

func (c *HTTPClient) performHealthCheck() {
	ctx, cancel := context.WithTimeout(c.healthCtx, c.config.HealthTimeout)
	defer cancel()

	info, err := c.Version(ctx)
	healthy := err == nil && info.WebSocketDebuggerURL != ""

	if was := c.healthy.Swap(healthy); was != healthy {
		if healthy {
			c.logger.Info("Remote browser available", "browser", info.Browser)
		} else {
			c.logger.Warn("Remote browser unavailable", "error", err)
		}
	}
}

// Ensure HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)

// NoOpClient is used when the browser is launched locally.
type NoOpClient struct{}

// NewNoOpClient creates a no-operation DevTools client.
func NewNoOpClient() *NoOpClient {
	return &NoOpClient{}
}

func (c *NoOpClient) Version(ctx context.Context) (*VersionInfo, error) {
	return nil, fmt.Errorf("remote browser is not configured")
}

// IsHealthy always reports true; a local browser has nothing to check.
func (c *NoOpClient) IsHealthy() bool {
	return true
}

func (c *NoOpClient) Close() {}

var _ Client = (*NoOpClient)(nil)
