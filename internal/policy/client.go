package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const decidePath = "/v1/data/soar/actions/allow"

// Client queries an OPA-style policy endpoint over HTTP. Any transport
// failure, timeout, or non-2xx status maps to ErrUnavailable so the gate
// can fall back locally.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a policy client with a bounded per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type decideRequest struct {
	Input struct {
		Action struct {
			Type      string  `json:"type"`
			RiskScore float64 `json:"risk_score"`
			Agent     string  `json:"agent"`
		} `json:"action"`
		User     string `json:"user"`
		Resource string `json:"resource"`
	} `json:"input"`
}

type decideResponse struct {
	Result bool `json:"result"`
}

// Decide implements Service.
func (c *Client) Decide(ctx context.Context, input DecisionInput) (bool, error) {
	var body decideRequest
	body.Input.Action.Type = input.Action
	body.Input.Action.RiskScore = input.RiskScore
	body.Input.Action.Agent = input.Agent
	body.Input.User = input.User
	body.Input.Resource = input.Resource

	raw, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("%w: encode request: %w", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+decidePath, bytes.NewReader(raw))
	if err != nil {
		return false, fmt.Errorf("%w: build request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var decoded decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	return decoded.Result, nil
}
