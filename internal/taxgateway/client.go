// Package taxgateway submits fiscal invoices to the eTIMS gateway.
package taxgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
	"github.com/Kellyhimself/POS-sub002/pkg/httpclient"
)

const upstream = "etims"

// Quota markers some gateway deployments return with a 4xx status.
var rateLimitMarkers = []string{"rateLimitExceeded", "PERMISSION_DENIED"}

// Config holds the gateway connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client posts invoices to {BaseURL}/invoice.
type Client struct {
	http    *httpclient.CircuitBreakerClient
	baseURL string
	token   string
	logger  *slog.Logger
}

// New creates a client. Transport retries are disabled; quota backoff is the
// caller's retry policy and the breaker sheds load while the gateway is down.
func New(cfg Config, logger *slog.Logger) *Client {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.MaxRetries = 0
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	return &Client{
		http:    httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), httpclient.DefaultCircuitBreakerConfig(upstream), logger),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		logger:  logger,
	}
}

type submitResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// Send posts inv and returns the gateway acknowledgement. Errors are
// classified so apperrors.IsRateLimited marks quota and server failures,
// apperrors.IsPermanent marks rejected invoices, and the rest (auth, network,
// open circuit, no gateway configured) stay retryable on a later cycle. A
// 409 means the invoice number was already accepted and counts as
// delivered.
func (c *Client) Send(ctx context.Context, inv domain.Invoice) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, apperrors.Unavailable(upstream+" base url not configured", nil)
	}
	body, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice %s: %w", inv.Number, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoice", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create invoice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			return nil, apperrors.RateLimited(fmt.Sprintf("%s returned status %d", upstream, statusErr.Status))
		}
		return nil, err
	}

	respBody, err := httpclient.ReadBody(resp)
	if err != nil {
		return nil, apperrors.Unavailable("read etims response", err)
	}
	return classify(resp.StatusCode, respBody, inv.Number)
}

// Submit sends inv and folds the result into an Outcome.
func (c *Client) Submit(ctx context.Context, inv domain.Invoice) domain.Outcome {
	resp, err := c.Send(ctx, inv)
	if err != nil {
		c.logger.WarnContext(ctx, "invoice submission not accepted",
			slog.String("invoice_number", inv.Number),
			slog.String("error", err.Error()),
		)
	}
	return domain.OutcomeFromError(resp, err)
}

func classify(status int, body []byte, number string) (json.RawMessage, error) {
	var parsed submitResponse
	_ = json.Unmarshal(body, &parsed)
	success := status >= 200 && status < 300 && (parsed.Success == nil || *parsed.Success)

	if success {
		return rawOrNull(body), nil
	}
	if status == http.StatusConflict {
		return rawOrNull(body), nil
	}

	text := string(body)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(text, marker) {
			return nil, apperrors.RateLimited(fmt.Sprintf("%s quota: %s", upstream, marker))
		}
	}

	switch {
	case status >= 200 && status < 300:
		reason := parsed.Message
		if reason == "" {
			reason = "invoice rejected"
		}
		return nil, apperrors.InvalidInput(fmt.Sprintf("%s rejected invoice %s: %s", upstream, number, reason))
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return nil, httpclient.MapStatus(status, body, upstream)
	case status == http.StatusUnauthorized:
		return nil, apperrors.Unauthorized(upstream + ": store token rejected")
	default:
		return nil, apperrors.RateLimited(fmt.Sprintf("%s returned status %d", upstream, status))
	}
}

func rawOrNull(body []byte) json.RawMessage {
	if len(body) == 0 || !json.Valid(body) {
		return json.RawMessage("null")
	}
	return json.RawMessage(body)
}
