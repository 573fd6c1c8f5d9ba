package repository

import (
	"context"
	"fmt"

	"NightScan/internal/domain/models"
	domrepo "NightScan/internal/domain/repository"
)

type messageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaSummaryPublisher sends each finished run to the summary topic, keyed
// by run ID.
type KafkaSummaryPublisher struct {
	producer messageProducer
	topic    string
}

var _ domrepo.SummaryPublisher = (*KafkaSummaryPublisher)(nil)

// NewKafkaSummaryPublisher creates the publisher; producer is usually a
// *kafka.Producer.
func NewKafkaSummaryPublisher(producer messageProducer, topic string) *KafkaSummaryPublisher {
	return &KafkaSummaryPublisher{producer: producer, topic: topic}
}

func (p *KafkaSummaryPublisher) PublishRun(ctx context.Context, run models.PipelineRun) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(run.ID), run); err != nil {
		return fmt.Errorf("publish run %s: %w", run.ID, err)
	}
	return nil
}

// Close closes the underlying producer.
func (p *KafkaSummaryPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops runs. Used when Kafka is not configured.
type NopPublisher struct{}

var _ domrepo.SummaryPublisher = NopPublisher{}

func (NopPublisher) PublishRun(context.Context, models.PipelineRun) error { return nil }
func (NopPublisher) Close() error { return nil }
