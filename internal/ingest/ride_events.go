package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/ride-negotiation/internal/models"
	"github.com/segmentio/kafka-go"
)

// RideEventProducer publishes ride lifecycle events keyed by ride id so
// consumers see each ride's transitions in order. Publishing is
// best-effort; the ledger write has already committed.
type RideEventProducer struct {
	writer *kafka.Writer
}

func NewRideEventProducer(brokers []string, topic string) *RideEventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &RideEventProducer{writer: w}
}

func (p *RideEventProducer) PublishRideEvent(ev models.RideEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RideID), Value: b})
}

func (p *RideEventProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
