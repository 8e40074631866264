package opencode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
)

// ErrUnsupported is returned when the server does not expose an optional endpoint
var ErrUnsupported = errors.New("opencode: endpoint not supported by server")

// APIError is returned for non-2xx responses
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("opencode %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Config holds client settings
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to a local opencode HTTP server
type Client struct {
	baseURL    *url.URL
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a client for the server at cfg.BaseURL
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid opencode url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid opencode url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	username := cfg.Username
	if username == "" && cfg.Password != "" {
		username = "opencode"
	}

	return &Client{
		baseURL:    base,
		username:   username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the server address
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ListSessions returns sessions, optionally limited to those updated since params.Start
func (c *Client) ListSessions(ctx context.Context, params ListSessionsParams) ([]Session, error) {
	query := url.Values{}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Start != nil {
		query.Set("start", strconv.FormatInt(*params.Start, 10))
	}

	var sessions []Session
	if err := c.get(ctx, "/session", query, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListProjects returns all projects known to the server
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.get(ctx, "/project", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Health checks whether the server is up
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.get(ctx, "/global/health", nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// PathInfo returns the server's home and state directories.
// Older servers without the endpoint yield ErrUnsupported.
func (c *Client) PathInfo(ctx context.Context) (PathInfo, error) {
	var info PathInfo
	err := c.get(ctx, "/path", nil, &info)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusMethodNotAllowed) {
			return PathInfo{}, ErrUnsupported
		}
		return PathInfo{}, err
	}
	return info, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("opencode GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("opencode request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
