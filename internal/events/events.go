// Package events fans out sync audit records to an external topic.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"esl-sync-service/internal/model"

	"github.com/segmentio/kafka-go"
)

// SyncEvent is the published form of an audit row
type SyncEvent struct {
	QueueItemID uint      `json:"queue_item_id"`
	ProductID   uint      `json:"product_id"`
	TenantID    string    `json:"tenant_id"`
	Operation   string    `json:"operation"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	LatencyMs   int64     `json:"latency_ms"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// FromAudit builds the event for an appended audit row
func FromAudit(entry *model.AuditLog) SyncEvent {
	return SyncEvent{
		QueueItemID: entry.QueueItemID,
		ProductID:   entry.ProductID,
		TenantID:    entry.TenantID.String(),
		Operation:   string(entry.Operation),
		Status:      string(entry.Status),
		Attempts:    entry.Attempts,
		Error:       entry.Error,
		ErrorKind:   entry.ErrorKind,
		LatencyMs:   entry.LatencyMs,
		OccurredAt:  entry.CreatedAt.UTC(),
	}
}

// Publisher delivers sync events. Delivery is best effort; the audit table
// stays the source of truth.
type Publisher interface {
	Publish(ctx context.Context, ev SyncEvent) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, SyncEvent) error { return nil }

// Close implements Publisher
func (NopPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by product so one
// product's events stay ordered on one partition
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher creates a publisher for brokers and topic
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish writes one event synchronously
func (p *KafkaPublisher) Publish(ctx context.Context, ev SyncEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode sync event: %w", err)
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.TenantID + ":" + strconv.FormatUint(uint64(ev.ProductID), 10)),
		Value: b,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish sync event: %w", err)
	}
	return nil
}

// Close flushes and releases the writer
func (p *KafkaPublisher) Close() error { return p.w.Close() }

// New returns a Kafka publisher when brokers are configured, otherwise a
// NopPublisher
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}
