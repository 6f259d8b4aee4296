package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func TestMissionsCompletedPublishes(t *testing.T) {
	ch := new(mockChannel)
	lead := models.Lead{ID: uuid.New(), Email: "ada@example.com", Name: "Ada"}
	at := time.Date(2026, 5, 14, 9, 0, 0, 0, time.UTC)

	ch.On("PublishWithContext", mock.Anything, ExchangeName, RoutingKey, false, false,
		mock.MatchedBy(func(msg amqp.Publishing) bool {
			var payload MissionCompletedPayload
			if err := json.Unmarshal(msg.Body, &payload); err != nil {
				return false
			}
			return msg.DeliveryMode == amqp.Persistent &&
				payload.LeadID == lead.ID.String() &&
				payload.Email == "ada@example.com" &&
				payload.CompletedAt.Equal(at)
		})).Return(nil).Once()

	require.NoError(t, NewProducer(ch).MissionsCompleted(context.Background(), lead, at))
	ch.AssertExpectations(t)
}

func TestMissionsCompletedWrapsPublishError(t *testing.T) {
	ch := new(mockChannel)
	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
		Return(errors.New("channel closed"))

	err := NewProducer(ch).MissionsCompleted(context.Background(), models.Lead{ID: uuid.New()}, time.Now())
	assert.ErrorContains(t, err, "channel closed")
}

func TestNilProducerIsNoop(t *testing.T) {
	var p *Producer
	assert.NoError(t, p.MissionsCompleted(context.Background(), models.Lead{}, time.Now()))
	assert.NoError(t, NewProducer(nil).MissionsCompleted(context.Background(), models.Lead{}, time.Now()))
}
