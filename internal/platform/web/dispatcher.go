// Package web delivers to browser endpoints with VAPID web push.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// VapidConfig carries the signing keypair and contact address.
type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// SetHTTPClient overrides the transport; used by tests.
func (d *Dispatcher) SetHTTPClient(c *http.Client) { d.httpClient = c }

// Send pushes one notification to a browser endpoint. A web token is the
// JSON-serialised PushSubscription the browser handed the client; a token
// that no longer parses is as dead as a 410.
func (d *Dispatcher) Send(ctx context.Context, tokenStr string, n *push.Notification) (push.Outcome, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(tokenStr), &sub); err != nil || sub.Endpoint == "" {
		return push.OutcomeInvalidToken, fmt.Errorf("web token is not a subscription: %w", err)
	}

	body := map[string]any{
		"notification": map[string]any{
			"title": n.Title,
			"body":  n.Body,
		},
	}
	if len(n.Data) > 0 {
		body["data"] = n.Data
	}
	payloadBytes, err := json.Marshal(body)
	if err != nil {
		return push.OutcomeTransientFailure, fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, &sub, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             60,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		return push.OutcomeTransientFailure, fmt.Errorf("webpush transport failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return push.OutcomeSent, nil
	case http.StatusGone, http.StatusNotFound:
		return push.OutcomeInvalidToken, fmt.Errorf("webpush endpoint gone: status %d", resp.StatusCode)
	default:
		d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return push.OutcomeTransientFailure, fmt.Errorf("webpush rejected: status %d", resp.StatusCode)
	}
}
