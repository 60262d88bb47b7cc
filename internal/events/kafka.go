package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

type kafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher produces events to topic, keyed by payment reference so
// every event of one order lands on the same partition.
func NewKafkaPublisher(brokers []string, topic string) (Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &kafkaPublisher{client: client, topic: topic}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev OrderEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}

	key := ev.PaymentReference
	if key == "" {
		key = string(ev.Type)
	}
	record := &kgo.Record{Topic: p.topic, Key: []byte(key), Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce %s event: %w", ev.Type, err)
	}
	log.Debug().Str("type", string(ev.Type)).Str("payment_reference", ev.PaymentReference).Msg("event produced")
	return nil
}

func (p *kafkaPublisher) Close() {
	p.client.Close()
}
