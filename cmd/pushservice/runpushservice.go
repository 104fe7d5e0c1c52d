// --- File: cmd/pushservice/runpushservice.go ---
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	saasmongo "github.com/dmitrymomot/saaskit/pkg/mongo"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-service/internal/dispatch"
	"github.com/tinywideclouds/go-push-service/internal/platform/apns"
	"github.com/tinywideclouds/go-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-service/internal/platform/web"
	"github.com/tinywideclouds/go-push-service/internal/storage/cache"
	"github.com/tinywideclouds/go-push-service/internal/storage/mongodb"
	"github.com/tinywideclouds/go-push-service/pkg/push"
	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-service")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Storage ---
	db, err := saasmongo.NewWithDatabase(ctx, saasmongo.Config{
		ConnectionURL:   cfg.Mongo.URI,
		ConnectTimeout:  10 * time.Second,
		MaxPoolSize:     50,
		MinPoolSize:     1,
		MaxConnIdleTime: 5 * time.Minute,
		RetryWrites:     true,
		RetryReads:      true,
		RetryAttempts:   3,
		RetryInterval:   5 * time.Second,
	}, cfg.Mongo.Database)
	if err != nil {
		logger.Error("Mongo connection failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = db.Client().Disconnect(ctx) }()

	queue := mongodb.NewQueue(db)
	if err := queue.EnsureIndexes(ctx); err != nil {
		logger.Error("Index creation failed", "err", err)
		os.Exit(1)
	}

	var tokenStore push.TokenStore = mongodb.NewTokenStore(db)
	logger.Info("TokenStore initialized", "type", "mongodb")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, 24*time.Hour)
		logger.Info("TokenStore upgraded", "type", "redis_cached_mongodb")
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, _ := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	authMiddleware, _ := middleware.NewJWKSAuthMiddleware(jwksURL, logger)

	// --- Dispatch worker (sender role) ---
	var worker *dispatch.Worker
	if cfg.Roles.Sender {
		router := dispatch.NewRouter(logger)

		// A. Mobile (FCM)
		if cfg.ProjectID != "" {
			fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
			if err != nil {
				logger.Error("Failed to initialize Firebase App", "err", err)
				os.Exit(1)
			}
			fcmMessaging, err := fbApp.Messaging(ctx)
			if err != nil {
				logger.Error("Failed to create FCM messaging client", "err", err)
				os.Exit(1)
			}
			router.Register(push.VendorAndroid, fcm.NewDispatcher(fcmMessaging, logger))
		} else {
			logger.Warn("No project_id configured. FCM dispatch disabled.")
		}

		// B. Apple (APNs)
		if cfg.APNS.Enabled {
			p8Content := cfg.APNS.P8KeyContent
			if p8Content == "" && cfg.APNS.P8KeyPath != "" {
				raw, err := os.ReadFile(cfg.APNS.P8KeyPath)
				if err != nil {
					logger.Error("Failed to read APNs P8 key", "err", err)
					os.Exit(1)
				}
				p8Content = string(raw)
			}
			apnsDispatcher, err := apns.NewDispatcher(apns.Config{
				KeyID:        cfg.APNS.KeyID,
				TeamID:       cfg.APNS.TeamID,
				BundleID:     cfg.APNS.BundleID,
				P8KeyContent: p8Content,
				Production:   cfg.APNS.Production,
			}, logger)
			if err != nil {
				logger.Error("Failed to create APNs dispatcher", "err", err)
				os.Exit(1)
			}
			router.Register(push.VendorIOS, apnsDispatcher)
		}

		// C. Web (VAPID)
		if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
			logger.Warn("VAPID keys missing in configuration. Web Push disabled.")
		} else {
			logger.Info("Web Dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
			router.Register(push.VendorWeb, web.NewDispatcher(web.VapidConfig{
				PublicKey:       cfg.Vapid.PublicKey,
				PrivateKey:      cfg.Vapid.PrivateKey,
				SubscriberEmail: cfg.Vapid.SubscriberEmail,
			}, logger))
		}

		worker, err = dispatch.NewWorker(dispatch.Config{
			SendTimeout:         cfg.Dispatch.SendTimeout,
			SendInterval:        cfg.Dispatch.SendInterval,
			SendBatchSize:       cfg.Dispatch.SendBatchSize,
			KeepNotifications:   cfg.Dispatch.KeepNotifications,
			RemoveInvalidTokens: cfg.Dispatch.RemoveInvalidTokens,
		}, queue, tokenStore, router, logger)
		if err != nil {
			logger.Error("Worker creation failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Consumer & Service ---
	var consumer messagepipeline.MessageConsumer
	if cfg.Roles.Saver && cfg.SubscriptionID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Consumer creation failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := pushservice.New(
		cfg,
		consumer,
		tokenStore,
		queue,
		worker,
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...", "saver", cfg.Roles.Saver, "sender", cfg.Roles.Sender)
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
