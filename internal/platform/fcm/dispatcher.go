// Package fcm delivers to android tokens through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Send pushes one notification to one registration token and classifies
// the result. FCM distinguishes dead-token errors from transport faults;
// only the former make the token a cleanup candidate.
func (d *Dispatcher) Send(ctx context.Context, token string, n *push.Notification) (push.Outcome, error) {
	msg := &messaging.Message{
		Token: token,
		Data:  n.Data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
	}
	if n.Sound != "" {
		msg.Android = &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{Sound: n.Sound},
		}
	}

	_, err := d.client.Send(ctx, msg)
	if err == nil {
		return push.OutcomeSent, nil
	}

	if messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err) {
		return push.OutcomeInvalidToken, fmt.Errorf("fcm rejected token: %w", err)
	}
	return push.OutcomeTransientFailure, fmt.Errorf("fcm transport failed: %w", err)
}
