// Package notify publishes file lifecycle events once a record reaches a
// terminal state.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"rustler/internal/models"
)

// Notifier delivers lifecycle events. Delivery is best-effort: callers log
// a returned error and carry on.
type Notifier interface {
	Notify(ctx context.Context, event models.Event) error
	Close() error
}

// NewEvent builds the event for a record in a terminal state.
func NewEvent(rec *models.FileRecord, at time.Time) models.Event {
	eventType := models.EventFileCompleted
	if rec.Status == models.StatusFailed {
		eventType = models.EventFileFailed
	}
	ev := models.Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		FileID:       rec.ID,
		Status:       rec.Status,
		AttemptCount: rec.AttemptCount,
		ErrorDetail:  rec.ErrorDetailString(),
		Timestamp:    at,
	}
	if rec.Checksum != nil {
		ev.Checksum = *rec.Checksum
	}
	return ev
}

// --- Kafka ---

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes events as JSON to a Kafka topic, keyed by file id so
// events for one file stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaNotifier{writer: writer, topic: topic}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.FileID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "source", Value: []byte("rustler")},
		},
	}

	if err := n.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("publish %s for file %s: %w", event.Type, event.FileID, err)
	}

	log.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"file_id":    event.FileID,
		"topic":      n.topic,
	}).Debug("Event published")
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// --- Noop ---

// NoopNotifier drops events. Used when no broker is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, event models.Event) error {
	log.WithFields(log.Fields{"event_type": event.Type, "file_id": event.FileID}).Debug("Notifier disabled, dropping event")
	return nil
}

func (NoopNotifier) Close() error { return nil }

var (
	_ Notifier = (*KafkaNotifier)(nil)
	_ Notifier = NoopNotifier{}
)
