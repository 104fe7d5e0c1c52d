// Package apns provides the client for the Apple Push Notification Service.
// It serves both the ios vendor tag and the legacy apn tag.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // the app bundle id
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
	// Production selects the production APNs host; the default is the
	// sandbox.
	Production bool
}

// NewDispatcher creates a configured APNS dispatcher. It parses the P8 key
// immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	}

	return &Dispatcher{
		client: client,
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

// NewDispatcherWithClient wires a pre-built client; used by tests.
func NewDispatcherWithClient(client APNSClient, bundleID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

// Send pushes one notification over the unary HTTP/2 API and maps the APNs
// response reason onto an outcome. BadDeviceToken, Unregistered and
// DeviceTokenNotForTopic mean the token is dead; other rejections usually
// mean our configuration is wrong, so the token is left alone.
func (d *Dispatcher) Send(ctx context.Context, deviceToken string, n *push.Notification) (push.Outcome, error) {
	builder := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body)
	if n.Sound != "" {
		builder.Sound(n.Sound)
	}
	if n.Badge != nil {
		builder.Badge(*n.Badge)
	}
	for k, v := range n.Data {
		builder.Custom(k, v)
	}

	res, err := d.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       d.topic,
		Payload:     builder,
	})
	if err != nil {
		return push.OutcomeTransientFailure, fmt.Errorf("apns transport failed: %w", err)
	}
	if res.Sent() {
		return push.OutcomeSent, nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return push.OutcomeInvalidToken, fmt.Errorf("apns rejected token: %s", res.Reason)
	default:
		d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		return push.OutcomeTransientFailure, fmt.Errorf("apns rejected notification: %s", res.Reason)
	}
}
