package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/workshoplane/api/internal/services"
)

func TestPubSubEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "scheduling-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	event := services.DomainEvent{
		Type:          "appointment.scheduled",
		OccurredAt:    occurredAt,
		WorkshopID:    42,
		OrderID:       "ord_test",
		AppointmentID: "apt_test",
		Payload: map[string]any{
			"status": "pending",
		},
	}

	if err := publisher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.DomainEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != event.Type || payload.AppointmentID != event.AppointmentID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["workshopId"]; attr != "42" {
		t.Fatalf("expected workshop attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "appointment.scheduled" {
		t.Fatalf("expected event type attribute, got %q", attr)
	}
}

func TestNewPubSubEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
