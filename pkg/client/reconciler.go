package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/saaskit/pkg/broadcast"
	"github.com/dmitrymomot/saaskit/pkg/statemachine"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Reconciliation states, one machine per device.
const (
	StateUnregistered        = statemachine.StringState("unregistered")
	StatePendingRegistration = statemachine.StringState("pending_registration")
	StateRegistered          = statemachine.StringState("registered")
	StateRevalidating        = statemachine.StringState("revalidating")
	StateAbandoned           = statemachine.StringState("abandoned")
)

const (
	eventTokenReceived    = statemachine.StringEvent("token_received")
	eventConfirmed        = statemachine.StringEvent("confirmed")
	eventPermissionLapsed = statemachine.StringEvent("permission_lapsed")
	eventRevalidate       = statemachine.StringEvent("revalidate")
	eventValidated        = statemachine.StringEvent("validated")
	eventReinserted       = statemachine.StringEvent("reinserted")
	eventDetached         = statemachine.StringEvent("detached")
	eventUnregistered     = statemachine.StringEvent("unregistered")
)

// Config tunes the reconciler.
type Config struct {
	AppName string
	Vendor  push.Vendor

	// PermissionTimeout bounds how long a fresh registration waits for
	// the user to grant notification permission before the cycle is
	// abandoned.
	PermissionTimeout time.Duration
	// PermissionPollInterval is how often the provider is asked while
	// waiting.
	PermissionPollInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.PermissionTimeout <= 0 {
		c.PermissionTimeout = 15 * time.Second
	}
	if c.PermissionPollInterval <= 0 {
		c.PermissionPollInterval = time.Second
	}
}

// Reconciler keeps the locally cached token in sync with the server across
// auth-state transitions. All triggers funnel through one mutex, matching
// the cooperative model: startup checks, principal changes, and provider
// events interleave but never overlap.
type Reconciler struct {
	cfg      Config
	cache    DeviceCache
	svc      TokenService
	provider Provider
	machine  statemachine.StateMachine
	events   *broadcast.MemoryBroadcaster[Event]
	logger   *slog.Logger

	mu         sync.Mutex
	principal  string
	cancelPoll context.CancelFunc
}

// New builds a reconciler. The initial machine state is derived from the
// device cache: a confirmed token resumes at Registered, an unconfirmed one
// at PendingRegistration. A nil cache gets a file cache under the user
// config dir.
func New(cfg Config, cache DeviceCache, svc TokenService, provider Provider, logger *slog.Logger) (*Reconciler, error) {
	cfg.withDefaults()
	if cache == nil {
		cache = NewFileCache(defaultCachePath(cfg.AppName))
	}

	state, err := cache.Load()
	if err != nil {
		return nil, err
	}
	initial := StateUnregistered
	switch {
	case state.HasToken() && state.TokenID != "":
		initial = StateRegistered
	case state.HasToken():
		initial = StatePendingRegistration
	}

	machine, err := statemachine.New(initial)
	if err != nil {
		return nil, err
	}
	transitions := []struct {
		from, to statemachine.StringState
		on       statemachine.StringEvent
	}{
		{StateUnregistered, StatePendingRegistration, eventTokenReceived},
		{StatePendingRegistration, StatePendingRegistration, eventTokenReceived}, // rotation before confirm
		{StateRegistered, StatePendingRegistration, eventTokenReceived},          // rotation
		{StateAbandoned, StatePendingRegistration, eventTokenReceived},           // fresh cycle
		{StatePendingRegistration, StateRegistered, eventConfirmed},
		{StatePendingRegistration, StateAbandoned, eventPermissionLapsed},
		{StateRegistered, StateRevalidating, eventRevalidate},
		{StatePendingRegistration, StateRevalidating, eventRevalidate},
		{StateRevalidating, StateRegistered, eventValidated},
		{StateRevalidating, StateRegistered, eventReinserted},
		{StateRevalidating, StatePendingRegistration, eventDetached},
		{StateRegistered, StateUnregistered, eventUnregistered},
		{StatePendingRegistration, StateUnregistered, eventUnregistered},
		{StateRevalidating, StateUnregistered, eventUnregistered},
		{StateAbandoned, StateUnregistered, eventUnregistered},
	}
	for _, t := range transitions {
		if err := machine.AddTransition(t.from, t.to, t.on, nil, nil); err != nil {
			return nil, err
		}
	}

	return &Reconciler{
		cfg:      cfg,
		cache:    cache,
		svc:      svc,
		provider: provider,
		machine:  machine,
		events:   broadcast.NewMemoryBroadcaster[Event](8),
		logger:   logger.With("component", "TokenReconciler"),
	}, nil
}

// State exposes the current machine state.
func (r *Reconciler) State() statemachine.State { return r.machine.Current() }

// Subscribe returns the reconciler's outgoing typed event stream.
func (r *Reconciler) Subscribe(ctx context.Context) broadcast.Subscriber[Event] {
	return r.events.Subscribe(ctx)
}

// Close shuts the event stream down.
func (r *Reconciler) Close() error { return r.events.Close() }

// Run drives the reconciler from its two asynchronous triggers: the
// authenticated-principal observable and the provider event stream. It
// blocks until ctx is cancelled or the provider stream closes.
func (r *Reconciler) Run(ctx context.Context, principals <-chan string, providerEvents broadcast.Subscriber[Event]) error {
	r.Startup(ctx)

	ch := providerEvents.Receive(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-principals:
			if !ok {
				principals = nil
				continue
			}
			r.SetPrincipal(ctx, p)
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev := msg.Data
			switch ev.Kind {
			case EventReady:
				r.publish(ctx, ev)
			case EventRegistration:
				r.HandleRegistration(ctx, ev.Token)
			case EventNotification:
				r.HandleNotification(ctx, ev.Notification)
			case EventError:
				r.logger.Warn("provider error", "err", ev.Err)
				r.publish(ctx, ev)
			}
		}
	}
}

// Startup checks the cache and revalidates a present token against the
// server, per application launch.
func (r *Reconciler) Startup(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.cache.Load()
	if err != nil {
		r.logger.Error("device cache unreadable", "err", err)
		return
	}
	if state.AppName != r.cfg.AppName {
		state.AppName = r.cfg.AppName
		if err := r.cache.Store(state); err != nil {
			r.logger.Warn("device cache write failed", "err", err)
		}
	}
	if state.HasToken() {
		r.revalidateLocked(ctx)
	}
}

// SetPrincipal records the authenticated principal. A token attached to a
// different principal than the current one triggers revalidation; explicit
// logout (empty principal) changes nothing by itself.
func (r *Reconciler) SetPrincipal(ctx context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.principal = userID
	state, err := r.cache.Load()
	if err != nil {
		r.logger.Error("device cache unreadable", "err", err)
		return
	}
	if userID != "" && state.HasToken() && state.AttachedUser != userID {
		r.revalidateLocked(ctx)
	}
}

// HandleRegistration reacts to a provider registration event carrying a
// new or rotated token. The token is cached immediately (provisionally
// valid) and confirmed server-side once permission is granted.
func (r *Reconciler) HandleRegistration(ctx context.Context, token string) {
	if token == "" {
		return
	}
	r.mu.Lock()

	state, err := r.cache.Load()
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("device cache unreadable", "err", err)
		return
	}
	if state.Token == token && state.TokenID != "" {
		// Same token, already confirmed.
		r.mu.Unlock()
		return
	}

	state.Token = token
	state.AttachedUser = r.principal
	state.TokenID = ""
	state.Enabled = false
	state.UpdatedAt = time.Now().UnixMilli()
	state.AppName = r.cfg.AppName
	if err := r.cache.Store(state); err != nil {
		r.mu.Unlock()
		r.logger.Error("device cache write failed", "err", err)
		return
	}
	r.fire(ctx, eventTokenReceived)

	// One permission wait per registration cycle; a rotated token
	// restarts the clock.
	if r.cancelPoll != nil {
		r.cancelPoll()
	}
	pollCtx, cancel := context.WithCancel(ctx)
	r.cancelPoll = cancel
	r.mu.Unlock()

	go r.awaitPermission(pollCtx)
}

// awaitPermission polls the provider until permission is granted, then
// registers the token server-side. If the bounded wait elapses first, the
// registration cycle is abandoned and the provider subscription torn down.
func (r *Reconciler) awaitPermission(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PermissionPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(r.cfg.PermissionTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			r.abandon(ctx)
			return
		case <-ticker.C:
			granted, err := r.provider.HasPermission(ctx)
			if err != nil {
				r.logger.Debug("permission check failed", "err", err)
				continue
			}
			// Android grants notification permission implicitly.
			if granted || r.cfg.Vendor == push.VendorAndroid {
				if err := r.confirm(ctx); err == nil {
					return
				}
				// Transient insert failure: keep polling until the
				// deadline, the cache is untouched.
			}
		}
	}
}

func (r *Reconciler) confirm(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.cache.Load()
	if err != nil || !state.HasToken() {
		return err
	}
	id, err := r.svc.Insert(ctx, r.cfg.Vendor, state.Token, r.cfg.AppName)
	if err != nil {
		r.logger.Warn("could not save token", "err", err)
		return err
	}
	state.TokenID = id
	state.AttachedUser = r.principal
	state.Enabled = true
	state.UpdatedAt = time.Now().UnixMilli()
	if err := r.cache.Store(state); err != nil {
		return err
	}
	r.fire(ctx, eventConfirmed)
	r.logger.Info("token registered", "token_id", id)
	return nil
}

func (r *Reconciler) abandon(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.provider.Unregister(ctx); err != nil {
		// Keep the cached handle; without it the subscription could
		// never be retried or removed.
		r.logger.Warn("provider unregister failed", "err", err)
		return
	}

	state, err := r.cache.Load()
	if err == nil && state.TokenID != "" {
		if err := r.svc.Remove(ctx, state.TokenID, r.cfg.Vendor, state.Token); err != nil {
			r.logger.Warn("server-side token remove failed", "err", err)
		}
	}
	state.ClearToken()
	state.UpdatedAt = time.Now().UnixMilli()
	if err := r.cache.Store(state); err != nil {
		r.logger.Error("device cache write failed", "err", err)
	}
	r.fire(ctx, eventPermissionLapsed)
	r.logger.Info("registration abandoned: no permission within timeout")
}

// Unregister drops the subscription: provider first, then the server
// record. A provider failure removes nothing, so the handle needed for a
// later retry survives.
func (r *Reconciler) Unregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.cache.Load()
	if err != nil {
		return err
	}
	if !state.HasToken() {
		return nil
	}
	if err := r.provider.Unregister(ctx); err != nil {
		return err
	}
	if err := r.svc.Remove(ctx, state.TokenID, r.cfg.Vendor, state.Token); err != nil {
		return err
	}
	state.ClearToken()
	state.UpdatedAt = time.Now().UnixMilli()
	if err := r.cache.Store(state); err != nil {
		return err
	}
	r.fire(ctx, eventUnregistered)
	return nil
}

// revalidateLocked aligns the cached token with server truth. Transient
// failures leave the cache untouched: local persistence is provisionally
// valid until a successful contradicting response arrives.
func (r *Reconciler) revalidateLocked(ctx context.Context) {
	state, err := r.cache.Load()
	if err != nil || !state.HasToken() {
		return
	}
	r.fire(ctx, eventRevalidate)

	known, err := r.svc.Validate(ctx, state.Token, r.cfg.Vendor)
	if err != nil {
		// Network or store trouble; the next trigger retries.
		r.logger.Warn("token validation failed, keeping cached token", "err", err)
		return
	}

	now := time.Now().UnixMilli()
	if known {
		state.Enabled = true
		state.UpdatedAt = now
		if err := r.cache.Store(state); err != nil {
			r.logger.Error("device cache write failed", "err", err)
			return
		}
		r.fire(ctx, eventValidated)
		return
	}

	if r.principal == "" {
		// Keep the token locally; it is attached at the next login.
		r.fire(ctx, eventDetached)
		return
	}

	id, err := r.svc.Insert(ctx, r.cfg.Vendor, state.Token, r.cfg.AppName)
	if err != nil {
		r.logger.Warn("token re-insert failed, keeping cached token", "err", err)
		return
	}
	state.TokenID = id
	state.AttachedUser = r.principal
	state.Enabled = true
	state.UpdatedAt = now
	if err := r.cache.Store(state); err != nil {
		r.logger.Error("device cache write failed", "err", err)
		return
	}
	r.fire(ctx, eventReinserted)
	r.logger.Info("token re-registered for new principal", "token_id", id)
}

// SetBadge applies the application icon badge through the provider.
func (r *Reconciler) SetBadge(ctx context.Context, count int) error {
	return r.provider.SetBadge(ctx, count)
}

// GetBadge reads the current application icon badge from the provider.
func (r *Reconciler) GetBadge(ctx context.Context) (int, error) {
	return r.provider.GetBadge(ctx)
}

// HandleNotification decomposes a received push into the typed event
// variants and applies the badge to the provider.
func (r *Reconciler) HandleNotification(ctx context.Context, inc *Incoming) {
	if inc == nil {
		return
	}
	if inc.Message != "" && inc.Foreground {
		r.publish(ctx, Event{Kind: EventAlert, Notification: inc})
	}
	if inc.Sound != "" {
		r.publish(ctx, Event{Kind: EventSound, Notification: inc})
	}
	if inc.Badge != nil {
		if err := r.provider.SetBadge(ctx, *inc.Badge); err != nil {
			r.logger.Warn("badge update failed", "err", err)
		}
		r.publish(ctx, Event{Kind: EventBadge, Notification: inc})
	}
	if inc.Foreground {
		r.publish(ctx, Event{Kind: EventNotification, Notification: inc})
	} else {
		r.publish(ctx, Event{Kind: EventStartup, Notification: inc})
	}
}

// fire advances the machine, tolerating events that do not apply to the
// current state: triggers recur and may arrive out of order.
func (r *Reconciler) fire(ctx context.Context, ev statemachine.StringEvent) {
	if err := r.machine.Fire(ctx, ev, nil); err != nil {
		r.logger.Debug("state transition skipped", "event", string(ev), "state", r.machine.Current().Name(), "err", err)
	}
}

func (r *Reconciler) publish(ctx context.Context, ev Event) {
	if err := r.events.Broadcast(ctx, broadcast.Message[Event]{Data: ev}); err != nil {
		r.logger.Debug("event broadcast failed", "err", err)
	}
}
