package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/6587027/VipStore-sub001/models"
)

// OrderNotice is a storefront order update addressed to one customer.
type OrderNotice struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

func (n OrderNotice) Body() string {
	if text := strings.TrimSpace(n.Text); text != "" {
		return text
	}
	if n.OrderID != "" && n.Status != "" {
		return fmt.Sprintf("Order %s is now %s.", n.OrderID, n.Status)
	}
	return ""
}

type MessageHandler interface {
	Handle(ctx context.Context, message *sarama.ConsumerMessage) error
}

type NoticePoster interface {
	PostNotice(ctx context.Context, customerID, body string) (*models.Message, error)
}

// NoticeHandler turns order notices into system messages in the customer's room.
type NoticeHandler struct {
	poster NoticePoster
	logger zerolog.Logger
}

func NewNoticeHandler(poster NoticePoster, logger zerolog.Logger) *NoticeHandler {
	return &NoticeHandler{poster: poster, logger: logger.With().Str("component", "notice_handler").Logger()}
}

// Handle returns an error only for failures worth redelivering. Records that can
// never be processed are logged and acknowledged.
func (h *NoticeHandler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var notice OrderNotice
	if err := json.Unmarshal(message.Value, &notice); err != nil {
		h.logger.Warn().Err(err).Int64("offset", message.Offset).Msg("skipping undecodable order notice")
		return nil
	}
	body := notice.Body()
	if strings.TrimSpace(notice.CustomerID) == "" || body == "" {
		h.logger.Warn().Str("order_id", notice.OrderID).Msg("skipping incomplete order notice")
		return nil
	}

	msg, err := h.poster.PostNotice(ctx, notice.CustomerID, body)
	if err != nil {
		return fmt.Errorf("post order notice %s: %w", notice.OrderID, err)
	}
	h.logger.Info().
		Str("order_id", notice.OrderID).
		Str("room_id", msg.RoomID).
		Msg("order notice delivered")
	return nil
}
