package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/workshoplane/api/internal/services"
)

// PubSubEventPublisher publishes scheduling domain events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Publish enqueues the event on the configured topic.
func (p *PubSubEventPublisher) Publish(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal domain event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "appointmentId", event.AppointmentID)
	if event.WorkshopID > 0 {
		attrs["workshopId"] = strconv.FormatInt(event.WorkshopID, 10)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish domain event %s: %w", event.Type, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// LogEventPublisher records events through the structured logger. It is the
// fallback when Pub/Sub delivery is disabled.
type LogEventPublisher struct {
	logger *zap.Logger
}

// NewLogEventPublisher constructs a logger backed event publisher.
func NewLogEventPublisher(logger *zap.Logger) *LogEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEventPublisher{logger: logger}
}

// Publish logs the event instead of delivering it.
func (p *LogEventPublisher) Publish(_ context.Context, event services.DomainEvent) error {
	p.logger.Info("domain event",
		zap.String("event_type", event.Type),
		zap.String("order_id", event.OrderID),
		zap.String("appointment_id", event.AppointmentID),
		zap.Int64("workshop_id", event.WorkshopID),
		zap.Time("occurred_at", event.OccurredAt),
	)
	return nil
}
