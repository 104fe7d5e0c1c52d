package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Config is the dispatch worker's explicit configuration. There is no
// process-wide Configure call; construct a worker per queue.
type Config struct {
	// SendTimeout is the claim lease: a record claimed but not finalised
	// becomes eligible again once the lease expires.
	SendTimeout time.Duration
	// SendInterval is the cycle period.
	SendInterval time.Duration
	// SendBatchSize bounds how many records one cycle claims.
	SendBatchSize int
	// KeepNotifications archives records after delivery instead of
	// deleting them.
	KeepNotifications bool
	// RemoveInvalidTokens purges a token when the provider reports it
	// dead. Off by default: removal races a device that is concurrently
	// re-registering.
	RemoveInvalidTokens bool
}

func (c *Config) withDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.SendInterval <= 0 {
		c.SendInterval = 5 * time.Second
	}
	if c.SendBatchSize <= 0 {
		c.SendBatchSize = 10
	}
}

// Worker periodically claims due notifications, resolves recipients, and
// fans out to providers. One cycle at a time: a tick that arrives while a
// cycle is still running is skipped, never queued.
type Worker struct {
	cfg    Config
	queue  push.NotificationQueue
	store  push.TokenStore
	router *Router
	logger *slog.Logger
	id     uuid.UUID

	inCycle atomic.Bool
	wg      sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewWorker(cfg Config, queue push.NotificationQueue, store push.TokenStore, router *Router, logger *slog.Logger) (*Worker, error) {
	if queue == nil || store == nil || router == nil {
		return nil, errors.New("dispatch: queue, store, and router are required")
	}
	cfg.withDefaults()
	id := uuid.New()
	return &Worker{
		cfg:    cfg,
		queue:  queue,
		store:  store,
		router: router,
		logger: logger.With("component", "DispatchWorker", "worker_id", id.String()),
		id:     id,
	}, nil
}

// Start begins the interval loop. Starting a running worker is an error.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("dispatch worker already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx)

	w.logger.Info("dispatch worker started",
		slog.Duration("interval", w.cfg.SendInterval),
		slog.Duration("lease", w.cfg.SendTimeout),
		slog.Int("batch_size", w.cfg.SendBatchSize))
	return nil
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return fmt.Errorf("dispatch worker not started")
	}
	cancel()
	w.wg.Wait()
	w.logger.Info("dispatch worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunCycle(ctx)
		}
	}
}

// RunCycle executes one dispatch pass. It is a no-op when a pass is already
// running; this bounds memory when a provider call stalls. Exported for
// tests and for deployments that drive the worker from an external
// scheduler.
func (w *Worker) RunCycle(ctx context.Context) {
	if !w.inCycle.CompareAndSwap(false, true) {
		w.logger.Debug("previous cycle still running, skipping tick")
		return
	}
	defer w.inCycle.Store(false)

	now := time.Now().UnixMilli()
	due, err := w.queue.FindDue(ctx, now, w.cfg.SendBatchSize)
	if err != nil {
		// Transient by taxonomy: leave everything as is, the next tick
		// retries naturally.
		w.logger.Error("due scan failed", "err", err)
		return
	}

	for _, n := range due {
		if err := w.process(ctx, n, now); err != nil {
			w.logger.Error("could not send notification", "notification_id", n.ID.Hex(), "err", err)
		}
	}
}

func (w *Worker) process(ctx context.Context, n *push.Notification, now int64) error {
	sel, err := n.Selector()
	if err != nil {
		// Malformed records are skipped unclaimed: fatal for the record,
		// harmless for the worker.
		w.logger.Warn("skipping malformed notification", "notification_id", n.ID.Hex(), "err", err)
		return nil
	}

	claimed, err := w.queue.Claim(ctx, n.ID, now, now+w.cfg.SendTimeout.Milliseconds())
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	if !claimed {
		// Lost the race or a previous lease is still live.
		w.logger.Debug("claim lost, skipping", "notification_id", n.ID.Hex())
		return nil
	}

	recipients, err := w.store.Resolve(ctx, sel)
	if err != nil {
		// The lease expires on its own and a later cycle reclaims.
		return fmt.Errorf("recipient resolution failed: %w", err)
	}

	var counts push.DeliveryCounts
	for _, rec := range recipients {
		// A failure for one token must not abort the rest of the batch.
		outcome := w.router.Deliver(ctx, rec, n)
		switch outcome {
		case push.OutcomeSent:
			counts.Add(rec.Vendor)
		case push.OutcomeInvalidToken:
			if w.cfg.RemoveInvalidTokens {
				if err := w.store.PurgeToken(ctx, rec.Token, rec.Vendor); err != nil {
					w.logger.Warn("dead token purge failed", "vendor", rec.Vendor, "err", err)
				}
			}
		}
	}
	w.logger.Info("notification fanned out",
		"notification_id", n.ID.Hex(),
		"recipients", len(recipients),
		"apn", counts.APN, "fcm", counts.FCM, "web", counts.Web)

	if w.cfg.KeepNotifications {
		if err := w.queue.Archive(ctx, n.ID, counts, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("archive failed: %w", err)
		}
		return nil
	}
	if err := w.queue.Delete(ctx, n.ID); err != nil {
		return fmt.Errorf("delete after send failed: %w", err)
	}
	return nil
}
