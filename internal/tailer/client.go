package tailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oicur0t/intelmon/pkg/models"
	"github.com/oicur0t/intelmon/pkg/retry"
	"go.uber.org/zap"
)

// Collector API paths
const (
	IntelPath     = "/api/intel"
	HeartbeatPath = "/api/heartbeat"
	StatusPath    = "/api/status"
)

// APIError is a non-2xx response from the collector
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client submits intel reports and heartbeats to the collector
type Client struct {
	baseURL     string
	apiKey      string
	clientID    string
	httpClient  *http.Client
	logger      *zap.Logger
	retryConfig retry.Config
}

// NewClient creates a collector client. tlsConfig may be nil to use the system
// defaults.
func NewClient(baseURL, apiKey string, tlsConfig *tls.Config, timeout time.Duration, retryConfig retry.Config, logger *zap.Logger) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     tlsConfig,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: timeout,
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		clientID:    "client_" + uuid.NewString(),
		httpClient:  httpClient,
		logger:      logger,
		retryConfig: retryConfig,
	}
}

// ClientID returns the identifier this process reports to the collector
func (c *Client) ClientID() string {
	return c.clientID
}

// SubmitReport sends one intel report
func (c *Client) SubmitReport(ctx context.Context, report models.IntelReport) error {
	return c.post(ctx, IntelPath, report)
}

// SubmitHeartbeat sends one heartbeat
func (c *Client) SubmitHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	return c.post(ctx, HeartbeatPath, hb)
}

// Probe checks that the collector's status endpoint answers with a 2xx
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+StatusPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return retry.Do(ctx, c.retryConfig, func() error {
		return c.sendRequest(ctx, path, jsonData)
	})
}

// sendRequest makes a single HTTP request. Client errors are permanent;
// transport failures and server errors may be retried.
func (c *Client) sendRequest(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Client-ID", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}

	apiErr := newAPIError(resp)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return apiErr
	}
	return retry.Permanent(apiErr)
}

func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
