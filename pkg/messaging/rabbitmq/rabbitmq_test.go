package rabbitmq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func TestPublishUsesTopicAsRoutingKey(t *testing.T) {
	ch := new(mockChannel)
	b := &RabbitMQBroker{ch: ch, exchange: "crm.events"}

	ch.On("PublishWithContext", "crm.events", "crm.messaging", mock.MatchedBy(func(p amqp.Publishing) bool {
		return p.ContentType == "application/json" && p.DeliveryMode == amqp.Persistent && string(p.Body) == `{"type":"x"}`
	})).Return(nil).Once()
	ch.On("Close").Return(nil).Once()

	require.NoError(t, b.Publish(context.Background(), "crm.messaging", []byte(`{"type":"x"}`)))
	assert.NoError(t, b.Close())
	ch.AssertExpectations(t)
}
