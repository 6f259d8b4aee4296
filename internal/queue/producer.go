package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirdesai22/leadsync/internal/models"
)

// MissionCompletedPayload is consumed by the notification service.
type MissionCompletedPayload struct {
	LeadID      string    `json:"lead_id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completed_at"`
}

// Channel is the publishing half of *amqp.Channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Producer struct {
	ch Channel
}

func NewProducer(ch Channel) *Producer {
	return &Producer{ch: ch}
}

// MissionsCompleted publishes the completion event. A producer without a
// channel drops it.
func (p *Producer) MissionsCompleted(ctx context.Context, lead models.Lead, completedAt time.Time) error {
	if p == nil || p.ch == nil {
		return nil
	}
	body, err := json.Marshal(MissionCompletedPayload{
		LeadID:      lead.ID.String(),
		Email:       lead.Email,
		Name:        lead.Name,
		CompletedAt: completedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode completion event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		ExchangeName,
		RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    lead.ID.String(),
			Timestamp:    completedAt,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}
	return nil
}
