package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes crawl results to a Kafka topic, keyed by job
// id so a job's results land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafka creates a publisher for the given broker and topic.
func NewKafka(broker, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: false,
		},
	}
}

// NewKafkaWithWriter builds a publisher using a custom writer (tests).
func NewKafkaWithWriter(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish marshals the result and writes it to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, result crawler.CrawlResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal crawl result: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(result.JobID),
		Value: payload,
		Time:  result.FetchedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
