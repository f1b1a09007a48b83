package controlplane

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	HeaderXSRF      = "kbn-xsrf"
	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 4096
)

type Config struct {
	URL                string        `mapstructure:"url"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// Client is a thin JSON request/response wrapper around the control-plane API.
// It holds no credentials; every call carries the Auth it should use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		slog.Warn("TLS verification disabled for control-plane calls", "url", cfg.URL)
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // development mode only
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// WithBaseURL returns a client sharing the same transport but addressing another host.
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: c.httpClient,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, auth Auth, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, auth, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, auth Auth, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, auth, body, out)
}

// Do sends one request and decodes a 2xx JSON response into out (when non-nil).
// Non-2xx responses are returned as *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, auth Auth, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderXSRF, "true")
	if !auth.IsZero() {
		req.Header.Set("Authorization", auth.Header())
	}

	slog.Debug("Control-plane request", "method", method, "path", path, "auth", auth.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to control plane: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(respBody)
		if len(text) > maxErrorBodyLen {
			text = text[:maxErrorBodyLen]
		}
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       text,
		}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
