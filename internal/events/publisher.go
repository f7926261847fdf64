package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

const partitionKeyMetadata = "partition_key"

// EventPublisher defines the interface for publishing progress events
type EventPublisher interface {
	Publish(ctx context.Context, event *ProgressEvent) error
	Close() error
}

// KafkaEventPublisher implements EventPublisher using Watermill with Kafka.
// Messages are partitioned by user id so one learner's events stay ordered.
type KafkaEventPublisher struct {
	publisher message.Publisher
	logger    *slog.Logger
	topicName string
}

// PublisherConfig holds configuration for the event publisher
type PublisherConfig struct {
	KafkaBrokers []string
	TopicName    string
	Logger       *slog.Logger
}

// NewKafkaEventPublisher creates a new Kafka-based event publisher using Watermill
func NewKafkaEventPublisher(config PublisherConfig) (*KafkaEventPublisher, error) {
	logger := watermill.NewSlogLogger(config.Logger)

	publisherConfig := kafka.PublisherConfig{
		Brokers: config.KafkaBrokers,
		Marshaler: kafka.NewWithPartitioningMarshaler(func(topic string, msg *message.Message) (string, error) {
			return msg.Metadata.Get(partitionKeyMetadata), nil
		}),
	}

	publisher, err := kafka.NewPublisher(publisherConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
	}

	return &KafkaEventPublisher{
		publisher: publisher,
		logger:    config.Logger,
		topicName: config.TopicName,
	}, nil
}

// Publish publishes a progress event to Kafka
func (p *KafkaEventPublisher) Publish(ctx context.Context, event *ProgressEvent) error {
	msg, err := NewMessage(event)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topicName, msg); err != nil {
		p.logger.Error("Failed to publish progress event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err)
		return fmt.Errorf("failed to publish progress event: %w", err)
	}

	p.logger.Debug("Published progress event",
		"event_id", event.ID,
		"event_type", event.Type,
		"topic", p.topicName)

	return nil
}

// Close closes the publisher and releases resources
func (p *KafkaEventPublisher) Close() error {
	return p.publisher.Close()
}

// NewMessage converts an event into a Watermill message with metadata headers
func NewMessage(event *ProgressEvent) (*message.Message, error) {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal progress event: %w", err)
	}

	msg := message.NewMessage(event.ID, eventBytes)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("source", event.Source)
	msg.Metadata.Set("version", event.Version)
	msg.Metadata.Set("timestamp", event.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	msg.Metadata.Set(partitionKeyMetadata, event.UserID)
	return msg, nil
}

// MockEventPublisher keeps events in memory. Safe for concurrent use.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []ProgressEvent
	err    error
	Logger *slog.Logger
}

// NewMockEventPublisher creates a new mock event publisher
func NewMockEventPublisher(logger *slog.Logger) *MockEventPublisher {
	return &MockEventPublisher{
		events: make([]ProgressEvent, 0),
		Logger: logger,
	}
}

// Publish stores the event in memory, or fails when FailWith was set
func (m *MockEventPublisher) Publish(ctx context.Context, event *ProgressEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *event)
	if m.Logger != nil {
		m.Logger.Debug("Mock: Published progress event",
			"event_id", event.ID,
			"event_type", event.Type)
	}
	return nil
}

// FailWith makes every following Publish return err. Pass nil to recover.
func (m *MockEventPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Close is a no-op for the mock publisher
func (m *MockEventPublisher) Close() error {
	return nil
}

// GetPublishedEvents returns a copy of all published events
func (m *MockEventPublisher) GetPublishedEvents() []ProgressEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProgressEvent, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType returns the published events of one type
func (m *MockEventPublisher) EventsOfType(t EventType) []ProgressEvent {
	var out []ProgressEvent
	for _, e := range m.GetPublishedEvents() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ClearEvents clears all published events
func (m *MockEventPublisher) ClearEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make([]ProgressEvent, 0)
}
