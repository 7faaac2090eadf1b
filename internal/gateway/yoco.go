package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/config"
	"github.com/tuckshop-za/tuckshop/internal/retry"
)

const maxResponseSize = 1 << 20

// YocoProvider talks to the Yoco Checkout API.
type YocoProvider struct {
	apiURL    string
	secretKey string
	client    *http.Client
	logger    *slog.Logger
	attempts  int
	baseDelay time.Duration
}

// NewYocoProvider creates a Yoco checkout client.
func NewYocoProvider(apiURL, secretKey string, client *http.Client, logger *slog.Logger) *YocoProvider {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YocoProvider{
		apiURL:    strings.TrimRight(apiURL, "/"),
		secretKey: secretKey,
		client:    client,
		logger:    logger,
		attempts:  3,
		baseDelay: 500 * time.Millisecond,
	}
}

// Name implements Provider.
func (y *YocoProvider) Name() string { return config.ProviderYoco }

type yocoCheckoutRequest struct {
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	SuccessURL string            `json:"successUrl,omitempty"`
	CancelURL  string            `json:"cancelUrl,omitempty"`
	FailureURL string            `json:"failureUrl,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type yocoCheckoutResponse struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirectUrl"`
	Status      string `json:"status"`
}

// CreateCheckout implements Provider. The idempotency key is forwarded so
// retried calls return the same checkout.
func (y *YocoProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error) {
	body, err := json.Marshal(yocoCheckoutRequest{
		Amount:     req.AmountCents,
		Currency:   req.Currency,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		FailureURL: req.FailureURL,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal checkout: %w", err)
	}

	var out yocoCheckoutResponse
	err = retry.Do(ctx, y.attempts, y.baseDelay, func() error {
		return y.post(ctx, "/checkouts", body, req.IdempotencyKey, &out)
	})
	if err != nil {
		return nil, err
	}
	if out.ID == "" || out.RedirectURL == "" {
		return nil, fmt.Errorf("%w: response missing id or redirectUrl", ErrProviderFailed)
	}
	return &Session{ID: out.ID, RedirectURL: out.RedirectURL}, nil
}

func (y *YocoProvider) post(ctx context.Context, path string, body []byte, idempotencyKey string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, y.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+y.secretKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := y.client.Do(httpReq)
	providerLatency.WithLabelValues(y.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		y.logger.Warn("yoco request failed", "path", path, "error", err)
		return fmt.Errorf("yoco request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		y.logger.Warn("yoco transient error", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: HTTP %d", ErrProviderFailed, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// A rejected key is a configuration problem, not a customer one.
		return retry.Permanent(fmt.Errorf("%w: yoco rejected secret key (HTTP %d)", ErrNotConfigured, resp.StatusCode))
	case resp.StatusCode >= 400:
		return retry.Permanent(fmt.Errorf("%w: HTTP %d: %s", ErrProviderFailed, resp.StatusCode, truncate(respBody, 200)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Permanent(fmt.Errorf("%w: decode response: %v", ErrProviderFailed, err))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
