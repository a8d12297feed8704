package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TriggerConsumer читает запросы на внеплановый прогон синхронизации.
type TriggerConsumer struct {
	r messageReader
}

func NewTriggerConsumer(brokers []string, topic, groupID string) *TriggerConsumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		StartOffset:       kafka.LastOffset,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newTriggerConsumerWithReader(kafka.NewReader(cfg))
}

func newTriggerConsumerWithReader(r messageReader) *TriggerConsumer {
	return &TriggerConsumer{r: r}
}

func (c *TriggerConsumer) Close() error {
	return c.r.Close()
}

// Listen blocks until ctx is done or the reader fails. Undecodable messages
// are committed and dropped, a handler error stops the loop without commit.
func (c *TriggerConsumer) Listen(ctx context.Context, handle func(messages.SyncRequested) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}

		var req messages.SyncRequested
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			slog.Warn("drop malformed sync request", "offset", msg.Offset, "error", err.Error())
		} else if err := handle(req); err != nil {
			return err
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}
