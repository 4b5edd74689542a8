package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

// PubSubPublisher publishes crawl results to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSub connects to Pub/Sub and binds the topic.
func NewPubSub(ctx context.Context, projectID, topicID string) (*PubSubPublisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubPublisher{
		client: client,
		topic:  client.Topic(topicID),
	}, nil
}

// Publish marshals the result and publishes it, waiting for the server ack.
func (p *PubSubPublisher) Publish(ctx context.Context, result crawler.CrawlResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal crawl result: %w", err)
	}
	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"job_id": result.JobID,
			"status": string(result.Status),
		},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
