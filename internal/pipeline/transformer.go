// Package pipeline adapts the Pub/Sub ingestion stream onto the
// notification queue: producers publish enqueue requests, the worker
// drains the queue on its own clock.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// EnqueueTransformer unmarshals and validates a raw message payload into a
// notification record. The wire shape is the same EnqueueRequest the HTTP
// producer endpoint accepts, so both transports enforce the same
// recipient-selection rules.
func EnqueueTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.Notification, bool, error) {
	var req api.EnqueueRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// Malformed JSON: skip so the streaming service can Nack/DLQ.
		return nil, true, fmt.Errorf("failed to unmarshal enqueue request from message %s: %w", msg.ID, err)
	}

	sel, err := req.Selector()
	if err != nil {
		return nil, true, fmt.Errorf("enqueue request %s has invalid recipients: %w", msg.ID, err)
	}

	var opts []push.NotificationOption
	if req.Sound != "" {
		opts = append(opts, push.WithSound(req.Sound))
	}
	if req.Badge != nil {
		opts = append(opts, push.WithBadge(*req.Badge))
	}
	if len(req.Data) > 0 {
		opts = append(opts, push.WithData(req.Data))
	}
	if req.DelayUntil > 0 {
		opts = append(opts, push.WithDelayUntil(req.DelayUntil))
	}

	n, err := push.NewNotification(req.Title, req.Body, sel, opts...)
	if err != nil {
		return nil, true, fmt.Errorf("enqueue request %s rejected: %w", msg.ID, err)
	}
	return n, false, nil
}
