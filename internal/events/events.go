// Package events publishes domain events for downstream consumers such as
// analytics and CRM sync.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// ScanCompleted is emitted after a redemption commits.
type ScanCompleted struct {
	ScanID       uuid.UUID  `json:"scan_id"`
	TenantID     uuid.UUID  `json:"tenant_id"`
	CouponID     uuid.UUID  `json:"coupon_id"`
	UserIdentity string     `json:"user_identity"`
	Points       int        `json:"points"`
	Balance      int64      `json:"balance"`
	Channel      string     `json:"channel"`
	AppID        *uuid.UUID `json:"app_id,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// Publisher emits domain events. Delivery is best effort: the database
// remains the source of truth.
type Publisher interface {
	PublishScanCompleted(ctx context.Context, ev ScanCompleted) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a Kafka topic keyed by coupon id.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

// PublishScanCompleted writes one event, injecting the trace context into the headers.
func (p *KafkaPublisher) PublishScanCompleted(ctx context.Context, ev ScanCompleted) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal scan event: %w", err)
	}

	carrier := &headerCarrier{{Key: "event_type", Value: []byte("scan.completed")}}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	msg := kafka.Message{
		Key:     []byte(ev.CouponID.String()),
		Value:   body,
		Headers: *carrier,
		Time:    ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write scan event: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// headerCarrier adapts Kafka headers to propagation.TextMapCarrier.
type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(*c))
	for i, h := range *c {
		keys[i] = h.Key
	}
	return keys
}

// NopPublisher discards events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishScanCompleted(context.Context, ScanCompleted) error { return nil }

func (NopPublisher) Close() error { return nil }
