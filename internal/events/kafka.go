package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"grocerstock/backend/internal/domain"
)

// KafkaPublisher writes sale lifecycle events as JSON messages keyed by
// receipt number, so all events for one sale land on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

type saleEvent struct {
	Type          string      `json:"type"`
	ReceiptNumber string      `json:"receiptNumber"`
	Sale          domain.Sale `json:"sale"`
	EmittedAt     time.Time   `json:"emittedAt"`
}

func (p *KafkaPublisher) PublishSaleCompleted(ctx context.Context, sale domain.Sale) error {
	return p.publish(ctx, "sale_completed", sale)
}

func (p *KafkaPublisher) PublishSaleVoided(ctx context.Context, sale domain.Sale) error {
	return p.publish(ctx, "sale_voided", sale)
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType string, sale domain.Sale) error {
	payload, err := json.Marshal(saleEvent{
		Type:          eventType,
		ReceiptNumber: sale.ReceiptNumber,
		Sale:          sale,
		EmittedAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(sale.ReceiptNumber),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
