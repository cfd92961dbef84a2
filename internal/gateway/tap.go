// Package gateway is a thin client for a Tap-compatible hosted card gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"workshop-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrMissingSecretKey means no secret key was configured; no request is sent.
	ErrMissingSecretKey = errors.New("payment gateway secret key is not configured")
	// ErrInvalidSecretKey means the gateway rejected the configured key.
	ErrInvalidSecretKey = errors.New("payment gateway rejected the secret key")
)

// APIError is a non-2xx gateway answer other than an authentication failure.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("payment gateway returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("payment gateway error %s: %s", e.Code, e.Description)
}

// Client talks to the gateway's charges API
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a gateway client. An empty secretKey is accepted here and
// reported by each call as ErrMissingSecretKey.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

// CreateCharge creates a hosted charge and returns it with its redirect URL
func (c *Client) CreateCharge(ctx context.Context, req *ChargeRequest) (*Charge, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.CreateCharge")
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	charge, err := c.do(ctx, "create_charge", http.MethodPost, "/charges", body)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("charge.id", charge.ID), attribute.String("charge.status", charge.Status))
	return charge, nil
}

// GetCharge fetches the current state of a charge
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.GetCharge", attribute.String("charge.id", chargeID))
	defer span.End()

	charge, err := c.do(ctx, "get_charge", http.MethodGet, "/charges/"+url.PathEscape(chargeID), nil)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("charge.status", charge.Status))
	return charge, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (*Charge, error) {
	if c.secretKey == "" {
		return nil, ErrMissingSecretKey
	}

	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Error("Payment gateway rejected secret key", zap.String("operation", op))
		return nil, ErrInvalidSecretKey
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, raw)
	}

	var charge Charge
	if err := json.Unmarshal(raw, &charge); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	charge.Raw = raw
	return &charge, nil
}

func parseAPIError(status int, raw []byte) error {
	apiErr := &APIError{StatusCode: status}

	var payload struct {
		Errors []struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Errors) > 0 {
		apiErr.Code = payload.Errors[0].Code
		apiErr.Description = payload.Errors[0].Description
	}
	return apiErr
}

// VerifyWebhook checks a webhook hashstring against the configured secret key
func (c *Client) VerifyWebhook(charge *Charge, hashstring string) bool {
	return VerifyWebhook(charge, hashstring, c.secretKey)
}
