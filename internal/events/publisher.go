// Package events publishes order lifecycle messages to Kafka. The publisher
// is optional: a nil *Publisher drops everything silently so the service can
// run without a broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"socheath/backend/internal/models"
)

const defaultTopic = "orders.paid"

type OrderPaidEvent struct {
	OrderID         string    `json:"order_id"`
	BillNumber      string    `json:"bill_number"`
	TransactionHash string    `json:"transaction_hash"`
	Total           string    `json:"total"`
	Currency        string    `json:"currency"`
	PaidAt          time.Time `json:"paid_at"`
}

type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher builds a publisher against the given brokers. An empty topic
// falls back to orders.paid.
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = defaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// PublishOrderPaid emits one message per confirmed order, keyed by order id
// so repeats for the same order land on the same partition.
func (p *Publisher) PublishOrderPaid(ctx context.Context, order models.Order) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(OrderPaidEvent{
		OrderID:         order.ID,
		BillNumber:      order.BillNumber,
		TransactionHash: order.TransactionHash,
		Total:           order.Total.String(),
		Currency:        order.Currency,
		PaidAt:          order.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode order paid event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.ID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("publish order paid event: %w", err)
	}
	return nil
}
