// Package render drives a FlareSolverr instance to fetch pages through a real
// headless browser, for catalogs that block or hollow out plain HTTP fetches.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trackmeta/searchservice/internal/metrics"
	"trackmeta/searchservice/internal/search"
)

const (
	defaultMaxTimeout = 15 * time.Second
	maxResponseBytes  = 8 * 1024 * 1024
)

type Config struct {
	// URL is the FlareSolverr base, e.g. http://flaresolverr:8191.
	URL string
	// MaxTimeout bounds one in-browser page load.
	MaxTimeout time.Duration
	Client     *http.Client
}

// Client talks to one FlareSolverr instance. It implements search.Renderer.
type Client struct {
	endpoint   string
	maxTimeout time.Duration
	client     *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSuffix(strings.TrimSpace(cfg.URL), "/")
	if endpoint == "" {
		return nil, errors.New("renderer url is required")
	}
	maxTimeout := cfg.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = defaultMaxTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: maxTimeout + 10*time.Second}
	}
	return &Client{
		endpoint:   endpoint,
		maxTimeout: maxTimeout,
		client:     client,
	}, nil
}

type command struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	Session    string `json:"session,omitempty"`
	MaxTimeout int    `json:"maxTimeout,omitempty"`
}

type response struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Session  string `json:"session"`
	Solution struct {
		URL      string `json:"url"`
		Status   int    `json:"status"`
		Response string `json:"response"`
	} `json:"solution"`
}

// NewSession creates a browser session. Sessions keep cookies and the solved
// challenge between page loads, so one session serves a whole aggregate
// search.
func (c *Client) NewSession(ctx context.Context) (search.RenderSession, error) {
	resp, err := c.do(ctx, command{Cmd: "sessions.create"})
	if err != nil {
		return nil, fmt.Errorf("create render session: %w", err)
	}
	if resp.Session == "" {
		return nil, errors.New("create render session: no session id in response")
	}
	return &Session{client: c, id: resp.Session}, nil
}

func (c *Client) do(ctx context.Context, cmd command) (*response, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("renderer HTTP %d: %s", httpResp.StatusCode, compact(body, 200))
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("renderer response: %w", err)
	}
	if parsed.Status != "ok" {
		return nil, fmt.Errorf("renderer %s: %s", parsed.Status, parsed.Message)
	}
	return &parsed, nil
}

// Session is one live browser context. It implements search.RenderSession.
type Session struct {
	client *Client
	id     string
}

// Render loads pageURL in the browser and returns the final DOM HTML.
func (s *Session) Render(ctx context.Context, pageURL string) (string, error) {
	start := time.Now()
	resp, err := s.client.do(ctx, command{
		Cmd:        "request.get",
		URL:        pageURL,
		Session:    s.id,
		MaxTimeout: int(s.client.maxTimeout.Milliseconds()),
	})
	metrics.RenderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if resp.Solution.Status >= 400 {
		return "", fmt.Errorf("rendered page HTTP %d", resp.Solution.Status)
	}
	return resp.Solution.Response, nil
}

// Close destroys the browser session. Destroy failures only leak a browser
// tab until FlareSolverr's own session TTL reaps it.
func (s *Session) Close(ctx context.Context) error {
	_, err := s.client.do(ctx, command{Cmd: "sessions.destroy", Session: s.id})
	return err
}

func compact(body []byte, maxLen int) string {
	value := strings.Join(strings.Fields(string(body)), " ")
	if len(value) > maxLen {
		value = value[:maxLen-3] + "..."
	}
	if value == "" {
		value = "empty response body"
	}
	return value
}
