// Package dispatch contains the provider router and the interval worker
// that drains the notification queue.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Router maps a token's vendor tag to the delivery capability wired for it.
// It never retries; the caller decides what an outcome means.
type Router struct {
	dispatchers map[push.Vendor]push.Dispatcher
	logger      *slog.Logger

	mu     sync.Mutex
	warned map[push.Vendor]bool
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		dispatchers: make(map[push.Vendor]push.Dispatcher),
		logger:      logger.With("component", "ProviderRouter"),
		warned:      make(map[push.Vendor]bool),
	}
}

// Register wires a dispatcher for a vendor tag. Registering VendorIOS also
// covers the legacy VendorAPN tag unless apn is wired explicitly.
func (r *Router) Register(v push.Vendor, d push.Dispatcher) {
	r.dispatchers[v] = d
}

func (r *Router) dispatcherFor(v push.Vendor) (push.Dispatcher, bool) {
	if d, ok := r.dispatchers[v]; ok {
		return d, true
	}
	if v == push.VendorAPN {
		d, ok := r.dispatchers[push.VendorIOS]
		return d, ok
	}
	return nil, false
}

// Deliver invokes the correct capability for one token record. An
// unconfigured vendor is a deployment error, logged once per vendor rather
// than once per token.
func (r *Router) Deliver(ctx context.Context, rec push.TokenRecord, n *push.Notification) push.Outcome {
	d, ok := r.dispatcherFor(rec.Vendor)
	if !ok {
		r.mu.Lock()
		if !r.warned[rec.Vendor] {
			r.warned[rec.Vendor] = true
			r.logger.Error("no dispatcher configured for vendor", "vendor", rec.Vendor)
		}
		r.mu.Unlock()
		return push.OutcomeUnconfigured
	}

	outcome, err := d.Send(ctx, rec.Token, n)
	switch outcome {
	case push.OutcomeSent:
	case push.OutcomeInvalidToken:
		r.logger.Info("provider reported dead token", "vendor", rec.Vendor, "err", err)
	default:
		r.logger.Warn("delivery failed", "vendor", rec.Vendor, "outcome", outcome, "err", err)
	}
	return outcome
}
