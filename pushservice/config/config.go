// --- File: pushservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type MongoConfig struct {
	URI      string
	Database string
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type APNSConfig struct {
	Enabled      bool
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyPath    string
	P8KeyContent string
	Production   bool
}

// DispatchConfig tunes the queue-draining worker.
type DispatchConfig struct {
	SendTimeout         time.Duration
	SendInterval        time.Duration
	SendBatchSize       int
	KeepNotifications   bool
	RemoveInvalidTokens bool
}

// Roles splits responsibilities across instances: savers accept tokens and
// enqueue notifications, senders run the dispatch worker. A single-instance
// deployment enables both.
type Roles struct {
	Saver  bool
	Sender bool
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	AppName                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	TopicID                string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	APNS       APNSConfig
	Dispatch   DispatchConfig
	Roles      Roles

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("APP_NAME"); val != "" {
		cfg.AppName = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	}

	// Mongo Overrides
	if val := os.Getenv("MONGO_URI"); val != "" {
		logger.Debug("Overriding config value", "key", "MONGO_URI", "source", "env")
		cfg.Mongo.URI = val
	}
	if val := os.Getenv("MONGO_DATABASE"); val != "" {
		cfg.Mongo.Database = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		cfg.Vapid.SubscriberEmail = val
	}

	// APNs Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
		cfg.APNS.Enabled = true
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY_PATH"); val != "" {
		cfg.APNS.P8KeyPath = val
	}
	if val := os.Getenv("APNS_PRODUCTION"); val != "" {
		production, _ := strconv.ParseBool(val)
		cfg.APNS.Production = production
	}

	// Dispatch Overrides
	if val := os.Getenv("DISPATCH_SEND_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			cfg.Dispatch.SendInterval = d
		}
	}
	if val := os.Getenv("DISPATCH_SEND_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			cfg.Dispatch.SendTimeout = d
		}
	}
	if val := os.Getenv("DISPATCH_SEND_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Dispatch.SendBatchSize = n
		}
	}
	if val := os.Getenv("DISPATCH_KEEP_NOTIFICATIONS"); val != "" {
		keep, _ := strconv.ParseBool(val)
		cfg.Dispatch.KeepNotifications = keep
	}
	if val := os.Getenv("DISPATCH_REMOVE_INVALID_TOKENS"); val != "" {
		remove, _ := strconv.ParseBool(val)
		cfg.Dispatch.RemoveInvalidTokens = remove
	}

	// Role Overrides
	if val := os.Getenv("ROLE_SAVER"); val != "" {
		saver, _ := strconv.ParseBool(val)
		cfg.Roles.Saver = saver
	}
	if val := os.Getenv("ROLE_SENDER"); val != "" {
		sender, _ := strconv.ParseBool(val)
		cfg.Roles.Sender = sender
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Final Validation
	if cfg.Mongo.URI == "" {
		return nil, fmt.Errorf("mongo uri is required (set via YAML or MONGO_URI env var)")
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "push"
	}
	if cfg.AppName == "" {
		return nil, fmt.Errorf("app_name is required (set via YAML or APP_NAME env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if !cfg.Roles.Saver && !cfg.Roles.Sender {
		cfg.Roles.Saver = true
		cfg.Roles.Sender = true
	}
	if cfg.Roles.Saver && cfg.SubscriptionID != "" {
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required when a subscription is configured")
		}
		if cfg.PubsubConsumerConfig == nil {
			cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
		}
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
