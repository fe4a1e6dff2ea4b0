package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DispatchPublisher publishes send tasks to Kafka.
type DispatchPublisher struct {
	writer *kafka.Writer
}

// NewDispatchPublisher constructs a publisher for the given topic.
func NewDispatchPublisher(k *Kafka, topic string) *DispatchPublisher {
	return &DispatchPublisher{
		writer: k.NewWriter(topic),
	}
}

// PublishTask writes the dispatch task to Kafka, keyed by message id so all
// attempts for one message land on the same partition.
func (p *DispatchPublisher) PublishTask(ctx context.Context, task DispatchTask) error {
	value, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("dispatch publisher: marshal task: %w", err)
	}

	record := kafka.Message{
		Key:   task.MessageID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("dispatch publisher: write task: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *DispatchPublisher) Close() error {
	return p.writer.Close()
}
