// --- File: pushservice/service.go ---
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/internal/dispatch"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/pkg/push"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[push.Notification]
	worker          *dispatch.Worker
	logger          *slog.Logger
}

// New assembles the service according to its configured roles: savers get
// the token API and the Pub/Sub ingestion pipeline, senders get the
// queue-draining worker. consumer may be nil when no subscription is
// configured; worker may be nil for saver-only instances.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	store push.TokenStore,
	queue push.NotificationQueue,
	worker *dispatch.Worker,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	w := &Wrapper{
		BaseServer: baseServer,
		worker:     worker,
		logger:     logger,
	}

	// 2. Ingestion pipeline (saver role, only when a subscription exists)
	if cfg.Roles.Saver && consumer != nil {
		streamingService, err := messagepipeline.NewStreamingService[push.Notification](
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.EnqueueTransformer,
			pipeline.NewProcessor(queue, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
		w.pipelineService = streamingService
	}

	// 3. API (Token lifecycle + producer enqueue)
	if cfg.Roles.Saver {
		tokenAPI := api.NewTokenAPI(store, queue, logger)

		mux := baseServer.Mux()
		corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

		// Token routes accept anonymous callers: the store scopes what
		// an unauthenticated device may touch.
		tokenAuth := optionalAuth(authMiddleware)
		handleToken := func(pattern string, handlerFunc http.HandlerFunc) {
			mux.Handle(pattern, corsMiddleware(tokenAuth(handlerFunc)))
		}
		handleToken("POST /api/v1/tokens", tokenAPI.InsertToken)
		handleToken("DELETE /api/v1/tokens", tokenAPI.RemoveToken)
		handleToken("POST /api/v1/tokens/validate", tokenAPI.ValidateToken)

		// Producers must authenticate.
		mux.Handle("POST /api/v1/notifications",
			corsMiddleware(authMiddleware(http.HandlerFunc(tokenAPI.EnqueueNotification))))

		// CORS preflight for the API namespace
		mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	}

	if cfg.Roles.Sender && worker == nil {
		return nil, fmt.Errorf("sender role requires a dispatch worker")
	}

	return w, nil
}

// optionalAuth authenticates requests that present credentials and passes
// the rest through anonymously. Devices register tokens before any login.
func optionalAuth(auth func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authed := auth(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				authed.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	if w.worker != nil {
		w.logger.Info("Dispatch worker starting...")
		if err := w.worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start dispatch worker: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.worker != nil {
		if err := w.worker.Stop(); err != nil {
			w.logger.Error("Dispatch worker shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Ingestion pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
