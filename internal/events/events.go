// Package events publishes billing lifecycle events for downstream consumers
// (analytics, CRM, support tooling). Publishing is best effort: callers log
// failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/tuckshop-za/tuckshop/internal/retry"
)

// Event types.
const (
	TypePlanActivated      = "plan.activated"
	TypePlanCancelled      = "plan.cancelled"
	TypeStoreProvisioned   = "store.provisioned"
	TypePaymentFailed      = "payment.failed"
	TypeOrderPaid          = "order.paid"
	TypeCommissionAccrued  = "commission.accrued"
	TypeReferralEnded      = "referral.ended"
	TypePayoutRequested    = "payout.requested"
	TypeSubscriptionLinked = "subscription.linked"
)

// Event is one lifecycle message. Key orders messages per store.
type Event struct {
	Type    string         `json:"type"`
	StoreID string         `json:"storeId,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

var published = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tuckshop",
	Subsystem: "events",
	Name:      "published_total",
	Help:      "Lifecycle events published by type and result.",
}, []string{"type", "result"})

func init() {
	prometheus.MustRegister(published)
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a single topic, keyed by store.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher for brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: kafka brokers not configured")
	}
	if topic == "" {
		return nil, errors.New("events: kafka topic not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	logger.Info("kafka event publisher initialized", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}, nil
}

// Publish implements Publisher. Transient write failures are retried.
func (k *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		published.WithLabelValues(ev.Type, "error").Inc()
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.StoreID),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}

	err = retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return k.writer.WriteMessages(writeCtx, msg)
	})
	if err != nil {
		published.WithLabelValues(ev.Type, "error").Inc()
		return fmt.Errorf("events: write %s: %w", ev.Type, err)
	}
	published.WithLabelValues(ev.Type, "ok").Inc()
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// LogPublisher logs events. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a log-only publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (l *LogPublisher) Publish(ctx context.Context, ev Event) error {
	l.logger.Info("lifecycle event", "type", ev.Type, "store", ev.StoreID, "data", ev.Data)
	published.WithLabelValues(ev.Type, "logged").Inc()
	return nil
}

// Close implements Publisher.
func (l *LogPublisher) Close() error { return nil }
