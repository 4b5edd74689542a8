package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

type fakeWriter struct {
	messages []kafka.Message
	writeErr error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublishKeyedByJob(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	pub := NewKafkaWithWriter(writer)

	result := crawler.CrawlResult{
		JobID:      "job-1",
		URL:        "https://shop.example/p/1",
		Domain:     "shop.example",
		Status:     crawler.ResultSuccess,
		HTTPStatus: 200,
		FetchedAt:  time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, pub.Publish(context.Background(), result))
	require.Len(t, writer.messages, 1)
	require.Equal(t, "job-1", string(writer.messages[0].Key))

	var decoded crawler.CrawlResult
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	require.Equal(t, result.URL, decoded.URL)
	require.Equal(t, result.Status, decoded.Status)

	require.NoError(t, pub.Close())
	require.True(t, writer.closed)
}

func TestKafkaPublishWriteError(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{writeErr: errors.New("broker down")}
	pub := NewKafkaWithWriter(writer)
	err := pub.Publish(context.Background(), crawler.CrawlResult{JobID: "job-1"})
	require.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	t.Parallel()

	pub := NewNoop()
	require.NoError(t, pub.Publish(context.Background(), crawler.CrawlResult{}))
	require.NoError(t, pub.Close())
}
