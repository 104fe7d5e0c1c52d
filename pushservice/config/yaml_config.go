// --- File: pushservice/config/yaml_config.go ---
package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlMongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	P8KeyPath  string `yaml:"p8_key_path"`
	Production bool   `yaml:"production"`
}

type YamlDispatchConfig struct {
	SendIntervalSeconds int  `yaml:"send_interval_seconds"`
	SendTimeoutSeconds  int  `yaml:"send_timeout_seconds"`
	SendBatchSize       int  `yaml:"send_batch_size"`
	KeepNotifications   bool `yaml:"keep_notifications"`
	RemoveInvalidTokens bool `yaml:"remove_invalid_tokens"`
}

type YamlRolesConfig struct {
	Saver  bool `yaml:"saver"`
	Sender bool `yaml:"sender"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	AppName                string             `yaml:"app_name"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	MongoConfig            YamlMongoConfig    `yaml:"mongo"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	VapidConfig            YamlVapidConfig    `yaml:"vapid"`
	APNSConfig             YamlAPNSConfig     `yaml:"apns"`
	DispatchConfig         YamlDispatchConfig `yaml:"dispatch"`
	RolesConfig            YamlRolesConfig    `yaml:"roles"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		AppName:        baseCfg.AppName,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Mongo: MongoConfig{
			URI:      baseCfg.MongoConfig.URI,
			Database: baseCfg.MongoConfig.Database,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		APNS: APNSConfig{
			Enabled:    baseCfg.APNSConfig.Enabled,
			KeyID:      baseCfg.APNSConfig.KeyID,
			TeamID:     baseCfg.APNSConfig.TeamID,
			BundleID:   baseCfg.APNSConfig.BundleID,
			P8KeyPath:  baseCfg.APNSConfig.P8KeyPath,
			Production: baseCfg.APNSConfig.Production,
		},
		Dispatch: DispatchConfig{
			SendInterval:        time.Duration(baseCfg.DispatchConfig.SendIntervalSeconds) * time.Second,
			SendTimeout:         time.Duration(baseCfg.DispatchConfig.SendTimeoutSeconds) * time.Second,
			SendBatchSize:       baseCfg.DispatchConfig.SendBatchSize,
			KeepNotifications:   baseCfg.DispatchConfig.KeepNotifications,
			RemoveInvalidTokens: baseCfg.DispatchConfig.RemoveInvalidTokens,
		},
		Roles: Roles{
			Saver:  baseCfg.RolesConfig.Saver,
			Sender: baseCfg.RolesConfig.Sender,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"app_name", cfg.AppName,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
