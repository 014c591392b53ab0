package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/smarttracker/internal/domain"
	"example.com/smarttracker/internal/observability"
)

// Header keys attached to every change event.
const (
	HeaderEventType  = "event_type"
	HeaderActivityID = "activity_id"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// Payload is the JSON body of a change event.
type Payload struct {
	EventType  string          `json:"event_type"`
	ActivityID string          `json:"activity_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Activity   domain.Activity `json:"activity"`
}

// Publisher implements domain.EventPublisher on top of a Kafka writer.
type Publisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewPublisher constructs a Publisher. A non-positive timeout leaves the
// caller's context in charge.
func NewPublisher(writer messageWriter, topic string, timeout time.Duration) *Publisher {
	return &Publisher{writer: writer, topic: topic, timeout: timeout}
}

// Publish encodes event and writes it keyed by activity ID so every change to
// one activity lands on the same partition.
func (p *Publisher) Publish(ctx context.Context, event domain.ChangeEvent) error {
	msg, err := encode(event)
	if err != nil {
		observability.RecordEventPublished(string(event.Type), err)
		return err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err = p.writer.WriteMessages(ctx, p.topic, msg)
	observability.RecordEventPublished(string(event.Type), err)
	return err
}

func encode(event domain.ChangeEvent) (kafka.Message, error) {
	body, err := json.Marshal(Payload{
		EventType:  string(event.Type),
		ActivityID: event.Activity.ID,
		OccurredAt: event.OccurredAt.UTC(),
		Activity:   event.Activity,
	})
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(event.Activity.ID),
		Value: body,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.Type)},
			{Key: HeaderActivityID, Value: []byte(event.Activity.ID)},
		},
	}, nil
}

// NopPublisher drops every event; used when publishing is disabled.
type NopPublisher struct{}

// Publish implements domain.EventPublisher.
func (NopPublisher) Publish(context.Context, domain.ChangeEvent) error { return nil }
