package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the PayGate API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Optional bearer token
}

// PayGateClient is a pure HTTP client for the PayGate API.
type PayGateClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewPayGateClient creates a new client for the PayGate API.
func NewPayGateClient(cfg Config) *PayGateClient {
	return &PayGateClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *PayGateClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// InitSession creates a new payment session for a user.
func (c *PayGateClient) InitSession(ctx context.Context, userID string) (json.RawMessage, error) {
	body := map[string]string{"user_id": userID}
	return c.doRequest(ctx, http.MethodPost, "/api/payment/session/init", nil, body)
}

// PreparePayment runs the authorization pipeline and signs a payment.
func (c *PayGateClient) PreparePayment(ctx context.Context, sessionID, amount, recipient, action string) (json.RawMessage, error) {
	body := map[string]string{
		"session_id": sessionID,
		"amount":     amount,
		"recipient":  recipient,
	}
	if action != "" {
		body["action"] = action
	}
	return c.doRequest(ctx, http.MethodPost, "/api/payment/prepare", nil, body)
}

// GetPolicy fetches a user's spending policy and current usage.
func (c *PayGateClient) GetPolicy(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/policy/"+userID, nil, nil)
}

// SetPolicyLimit updates a user's daily spending limit.
func (c *PayGateClient) SetPolicyLimit(ctx context.Context, userID, limitBNB string) (json.RawMessage, error) {
	body := map[string]string{
		"userId":   userID,
		"limitBNB": limitBNB,
	}
	return c.doRequest(ctx, http.MethodPost, "/api/policy/set-limit", nil, body)
}

// AssessRisk runs a standalone risk assessment.
func (c *PayGateClient) AssessRisk(ctx context.Context, userID, amount, recipient string) (json.RawMessage, error) {
	body := map[string]string{
		"user_id":   userID,
		"amount":    amount,
		"recipient": recipient,
	}
	return c.doRequest(ctx, http.MethodPost, "/api/payment/assess-risk", nil, body)
}

// AuditTrail fetches filtered audit log entries.
func (c *PayGateClient) AuditTrail(ctx context.Context, userID, actionType, status string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if actionType != "" {
		q.Set("action_type", actionType)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/audit/log", q, nil)
}

// PaymentHistory lists a user's completed payments.
func (c *PayGateClient) PaymentHistory(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/payment/history/"+userID, nil, nil)
}

// ComplianceReport generates an audit compliance report.
func (c *PayGateClient) ComplianceReport(ctx context.Context, from, to string) (json.RawMessage, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	return c.doRequest(ctx, http.MethodGet, "/api/audit/report", q, nil)
}
