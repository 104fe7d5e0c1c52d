package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// NewProcessor creates the terminal pipeline stage: a durable queue insert.
// Delivery itself happens later, on the dispatch worker's interval, so the
// only failure that should Nack a message is the store being unavailable.
func NewProcessor(
	queue push.NotificationQueue,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[push.Notification] {

	procLogger := logger.With("component", "EnqueueProcessor")

	return func(ctx context.Context, original messagepipeline.Message, n *push.Notification) error {
		id, err := queue.Enqueue(ctx, n)
		if err != nil {
			procLogger.Error("Failed to enqueue notification", "pubsub_msg_id", original.ID, "err", err)
			return err // retryable
		}
		procLogger.Info("Notification enqueued",
			"pubsub_msg_id", original.ID,
			"notification_id", id.Hex())
		return nil
	}
}
