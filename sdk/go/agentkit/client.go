// Package agentkit is a Go client for the agent monitor API served by
// `agentkit monitor`.
package agentkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the monitor API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Metrics mirrors the agent's running statistics.
type Metrics struct {
	TotalActions uint64     `json:"totalActions"`
	SuccessRate  float64    `json:"successRate"`
	AvgGasUsed   float64    `json:"avgGasUsed"`
	UptimeMillis int64      `json:"uptime"`
	LastActionAt *time.Time `json:"lastActionAt"`
}

// Action is the last action the agent submitted.
type Action struct {
	Type      string         `json:"type"`
	Params    map[string]any `json:"params,omitempty"`
	GasLimit  uint64         `json:"gasLimit,omitempty"`
	GasPrice  string         `json:"gasPrice,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// State is the agent's observable state.
type State struct {
	Status          string         `json:"status"`
	LastAction      *Action        `json:"lastAction,omitempty"`
	Metrics         Metrics        `json:"metrics"`
	Data            map[string]any `json:"data,omitempty"`
	ContractAddress string         `json:"contractAddress,omitempty"`
}

// Agent combines the agent's configuration summary with its state.
type Agent struct {
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Autonomy        string   `json:"autonomy"`
	Triggers        []string `json:"triggers"`
	Network         string   `json:"network,omitempty"`
	ContractAddress string   `json:"contractAddress,omitempty"`
	State           State    `json:"state"`
}

// ActionRecord is one journaled submission.
type ActionRecord struct {
	ID         int64  `json:"id"`
	Agent      string `json:"agent"`
	ActionType string `json:"actionType"`
	Params     string `json:"params"`
	Success    bool   `json:"success"`
	TxHash     string `json:"txHash,omitempty"`
	GasUsed    uint64 `json:"gasUsed"`
	Error      string `json:"error,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentkit api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentkit api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the monitor at rawURL. When httpClient is
// nil a client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the bearer token sent with each request.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token. An empty token disables the header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Agent fetches the agent summary and state.
func (c *Client) Agent(ctx context.Context) (Agent, error) {
	var out Agent
	if err := c.call(ctx, http.MethodGet, "/api/v1/agent", nil, &out); err != nil {
		return Agent{}, err
	}
	return out, nil
}

// Actions lists the most recent journaled actions, newest first.
func (c *Client) Actions(ctx context.Context, limit int) ([]ActionRecord, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out []ActionRecord
	if err := c.call(ctx, http.MethodGet, "/api/v1/agent/actions", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start starts the agent and returns its new state.
func (c *Client) Start(ctx context.Context) (State, error) { return c.control(ctx, "start") }

// Stop stops the agent.
func (c *Client) Stop(ctx context.Context) (State, error) { return c.control(ctx, "stop") }

// Pause pauses a running agent.
func (c *Client) Pause(ctx context.Context) (State, error) { return c.control(ctx, "pause") }

// Resume resumes a paused agent.
func (c *Client) Resume(ctx context.Context) (State, error) { return c.control(ctx, "resume") }

func (c *Client) control(ctx context.Context, op string) (State, error) {
	var out State
	if err := c.call(ctx, http.MethodPost, "/api/v1/agent/"+op, nil, &out); err != nil {
		return State{}, err
	}
	return out, nil
}

func (c *Client) endpoint(scheme, endpoint string, query url.Values) *url.URL {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawQuery = query.Encode()
	if scheme != "" {
		u.Scheme = scheme
	}
	return &u
}

func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint("", endpoint, query).String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		apiErr := &APIError{}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
