package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/6587027/VipStore-sub001/models"
)

type posted struct {
	customerID string
	body       string
}

type fakePoster struct {
	err   error
	posts []posted
}

func (p *fakePoster) PostNotice(_ context.Context, customerID, body string) (*models.Message, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.posts = append(p.posts, posted{customerID: customerID, body: body})
	return &models.Message{RoomID: "room-" + customerID, Body: body}, nil
}

func TestOrderNoticeBody(t *testing.T) {
	assert.Equal(t, "custom text", OrderNotice{Text: " custom text ", OrderID: "1", Status: "paid"}.Body())
	assert.Equal(t, "Order 42 is now shipped.", OrderNotice{OrderID: "42", Status: "shipped"}.Body())
	assert.Empty(t, OrderNotice{OrderID: "42"}.Body())
}

func TestNoticeHandler(t *testing.T) {
	poster := &fakePoster{}
	handler := NewNoticeHandler(poster, zerolog.Nop())
	ctx := context.Background()

	err := handler.Handle(ctx, &sarama.ConsumerMessage{Value: []byte(`{"order_id":"42","customer_id":"cust-1","status":"shipped"}`)})
	require.NoError(t, err)
	require.Len(t, poster.posts, 1)
	assert.Equal(t, posted{customerID: "cust-1", body: "Order 42 is now shipped."}, poster.posts[0])

	assert.NoError(t, handler.Handle(ctx, &sarama.ConsumerMessage{Value: []byte(`not json`)}))
	assert.NoError(t, handler.Handle(ctx, &sarama.ConsumerMessage{Value: []byte(`{"order_id":"43","status":"paid"}`)}))
	assert.NoError(t, handler.Handle(ctx, &sarama.ConsumerMessage{Value: []byte(`{"customer_id":"cust-1"}`)}))
	assert.Len(t, poster.posts, 1)

	poster.err = errors.New("database unavailable")
	err = handler.Handle(ctx, &sarama.ConsumerMessage{Value: []byte(`{"order_id":"44","customer_id":"cust-1","text":"hi"}`)})
	assert.ErrorIs(t, err, poster.err)
}
