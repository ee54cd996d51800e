package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/helpdeskai/support-platform/internal/model"
)

const (
	// StreamName is the name of the conversation events stream.
	StreamName = "SUPPORT_EVENTS"

	// SubjectPrefix is the prefix for all event subjects.
	SubjectPrefix = "support"
)

// Publisher is the slice of the feed the conversation engine needs; the
// engine publishes, the SSE handler reads.
type Publisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// NopPublisher discards events. Used in tests and when NATS is disabled.
type NopPublisher struct{}

// PublishEvent implements Publisher.
func (NopPublisher) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	return 0, nil
}

// Feed manages the JetStream conversation event stream.
type Feed struct {
	client *Client
}

// NewFeed creates a feed over an established NATS client.
func NewFeed(client *Client) *Feed {
	return &Feed{client: client}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (f *Feed) EnsureStream(ctx context.Context) error {
	js := f.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	// Create stream
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation lifecycle events and live feed",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for a conversation event.
func EventSubject(companyID, conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, companyID, conversationID, eventType)
}

// ConversationFilter returns the filter subject for all events in a
// conversation.
func ConversationFilter(companyID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, companyID, conversationID)
}

// PublishEvent publishes an event to the feed.
func (f *Feed) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	subject := EventSubject(event.CompanyID, event.ConversationID, event.Kind())

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := f.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// GetEvents retrieves conversation events starting after a sequence, for
// SSE replay and polling.
func (f *Feed) GetEvents(ctx context.Context, companyID, conversationID string, afterSequence uint64, limit int) ([]model.ConversationEvent, uint64, bool, error) {
	js := f.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: ConversationFilter(companyID, conversationID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}

	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	var events []model.ConversationEvent
	var lastSequence uint64

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch events: %w", err)
	}

	for msg := range batch.Messages() {
		var event model.ConversationEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}

		meta, err := msg.Metadata()
		if err == nil {
			event.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}

		events = append(events, event)
	}

	if batch.Error() != nil && batch.Error() != context.DeadlineExceeded {
		return nil, 0, false, fmt.Errorf("batch error: %w", batch.Error())
	}

	hasMore := len(events) == limit

	return events, lastSequence, hasMore, nil
}
