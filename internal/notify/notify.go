// Package notify sends WhatsApp messages to vendors. Delivery is fire and
// forget: Send never returns an error, only a Result that callers log.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tuckshop-za/tuckshop/internal/circuitbreaker"
	"github.com/tuckshop-za/tuckshop/internal/config"
	"github.com/tuckshop-za/tuckshop/internal/validation"
)

// DefaultAPIURL is the WhatsApp Cloud API base.
const DefaultAPIURL = "https://graph.facebook.com/v21.0"

const breakerKey = "whatsapp"

// Result of a send attempt.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// Notifier sends a text message to a phone number.
type Notifier interface {
	Send(ctx context.Context, phone, message string) Result
}

var sent = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tuckshop",
	Subsystem: "notify",
	Name:      "messages_total",
	Help:      "WhatsApp sends by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(sent)
}

// WhatsApp is a WhatsApp Cloud API client.
type WhatsApp struct {
	creds   config.MessagingCredentials
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

var _ Notifier = (*WhatsApp)(nil)

// NewWhatsApp creates a client. Missing credentials produce a client whose
// sends report a warning.
func NewWhatsApp(creds config.MessagingCredentials, breaker *circuitbreaker.Breaker, logger *slog.Logger) *WhatsApp {
	if creds.APIURL == "" {
		creds.APIURL = DefaultAPIURL
	}
	creds.APIURL = strings.TrimRight(creds.APIURL, "/")
	if breaker == nil {
		breaker = circuitbreaker.New(5, time.Minute)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsApp{
		creds:   creds,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: breaker,
		logger:  logger,
	}
}

// Configured reports whether credentials are present.
func (w *WhatsApp) Configured() bool {
	return w.creds.Token != "" && w.creds.PhoneNumberID != ""
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send implements Notifier.
func (w *WhatsApp) Send(ctx context.Context, phone, message string) Result {
	if !w.Configured() {
		sent.WithLabelValues("unconfigured").Inc()
		return Result{Warning: "messaging not configured"}
	}
	phone = validation.NormalizePhone(phone)
	if !validation.IsValidPhone(phone) {
		sent.WithLabelValues("invalid_phone").Inc()
		return Result{Warning: "invalid phone number"}
	}

	var id string
	err := w.breaker.Do(breakerKey, func() error {
		var err error
		id, err = w.post(ctx, strings.TrimPrefix(phone, "+"), message)
		return err
	})
	if err != nil {
		result := "error"
		if errors.Is(err, circuitbreaker.ErrOpen) {
			result = "circuit_open"
		}
		sent.WithLabelValues(result).Inc()
		w.logger.Warn("whatsapp send failed", "error", err)
		return Result{Warning: err.Error()}
	}
	sent.WithLabelValues("ok").Inc()
	return Result{Success: true, MessageID: id}
}

func (w *WhatsApp) post(ctx context.Context, to, body string) (string, error) {
	msg := textMessage{MessagingProduct: "whatsapp", To: to, Type: "text"}
	msg.Text.Body = body
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", w.creds.APIURL, w.creds.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+w.creds.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out sendResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 300 {
		if out.Error != nil {
			return "", fmt.Errorf("whatsapp status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("whatsapp status %d", resp.StatusCode)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

// Nop discards messages.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, string, string) Result {
	return Result{Warning: "messaging disabled"}
}
