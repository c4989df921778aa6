// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Queue backends for accepted webhook events.
const (
	QueueMemory = "memory"
	QueueSQS    = "sqs"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsCloudWatch = "cloudwatch"
	MetricsNone       = "none"
)

// Config holds the environment driven configuration for the fulfillment service.
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"fulfillment"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort        int           `env:"PORT" envDefault:"8080"`
	RunLocal        bool          `env:"RUN_LOCAL" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpoint string `env:"AWS_ENDPOINT_OVERRIDE"`

	FilesTable         string `env:"FILES_TABLE" envDefault:"tuning_files"`
	AuditTable         string `env:"AUDIT_TABLE" envDefault:"file_audit_log"`
	OrdersTable        string `env:"ORDERS_TABLE" envDefault:"orders"`
	ParcelsTable       string `env:"PARCELS_TABLE" envDefault:"yalidine_parcels"`
	CarrierEventsTable string `env:"CARRIER_EVENTS_TABLE" envDefault:"yalidine_events"`
	UsersTable         string `env:"USERS_TABLE" envDefault:"users"`

	// Object storage
	Bucket              string        `env:"FILES_BUCKET,notEmpty"`
	PublicBaseURL       string        `env:"FILES_PUBLIC_BASE_URL"`
	PresignTTL          time.Duration `env:"PRESIGN_TTL" envDefault:"900s"`
	MaxUploadBytes      int64         `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
	AllowedContentTypes []string      `env:"ALLOWED_CONTENT_TYPES" envSeparator:","`

	// Carrier webhooks
	YalidineWebhookSecret string `env:"YALIDINE_WEBHOOK_SECRET"`
	MaxWebhookBytes       int64  `env:"MAX_WEBHOOK_BYTES" envDefault:"1048576"`
	WebhookQueue          string `env:"WEBHOOK_QUEUE"`
	WebhookQueueSize      int    `env:"WEBHOOK_QUEUE_SIZE" envDefault:"256"`
	WebhookWorkers        int    `env:"WEBHOOK_WORKERS" envDefault:"4"`
	WebhookQueueURL       string `env:"WEBHOOK_QUEUE_URL"`

	CarrierEventRetention time.Duration `env:"CARRIER_EVENT_RETENTION" envDefault:"2160h"`

	// Notifications
	NotifyTimeout      time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	TelegramAPIBase    string        `env:"TELEGRAM_API_BASE" envDefault:"https://api.telegram.org"`
	FileAdminBotToken  string        `env:"TELEGRAM_FILE_ADMIN_BOT_TOKEN"`
	FileAdminChatID    string        `env:"TELEGRAM_FILE_ADMIN_CHAT_ID"`
	SuperAdminBotToken string        `env:"TELEGRAM_SUPER_ADMIN_BOT_TOKEN"`
	SuperAdminChatID   string        `env:"TELEGRAM_SUPER_ADMIN_CHAT_ID"`
	CustomerBotToken   string        `env:"TELEGRAM_CUSTOMER_BOT_TOKEN"`
	CallbackPrefix     string        `env:"TELEGRAM_CALLBACK_PREFIX" envDefault:"fs"`
	EmailFrom          string        `env:"EMAIL_FROM"`
	DashboardBaseURL   string        `env:"DASHBOARD_BASE_URL" envDefault:"https://example.com/account/files"`

	// Metrics
	MetricsBackend   string        `env:"METRICS_BACKEND" envDefault:"prometheus"`
	MetricsNamespace string        `env:"METRICS_NAMESPACE" envDefault:"Fulfillment"`
	MetricsFlush     time.Duration `env:"METRICS_FLUSH_INTERVAL" envDefault:"60s"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.Bucket = strings.TrimSpace(c.Bucket)
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	c.WebhookQueue = strings.ToLower(strings.TrimSpace(c.WebhookQueue))
	c.MetricsBackend = strings.ToLower(strings.TrimSpace(c.MetricsBackend))

	if c.PresignTTL <= 0 {
		c.PresignTTL = 900 * time.Second
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.WebhookQueue == "" {
		c.WebhookQueue = QueueSQS
		if c.RunLocal {
			c.WebhookQueue = QueueMemory
		}
	}
	switch c.WebhookQueue {
	case QueueMemory:
		// In-process workers do not survive a frozen Lambda.
		if !c.RunLocal {
			return fmt.Errorf("WEBHOOK_QUEUE=memory requires RUN_LOCAL=true")
		}
		if c.WebhookQueueSize <= 0 || c.WebhookWorkers <= 0 {
			return fmt.Errorf("WEBHOOK_QUEUE_SIZE and WEBHOOK_WORKERS must be positive")
		}
	case QueueSQS:
		if strings.TrimSpace(c.WebhookQueueURL) == "" {
			return fmt.Errorf("WEBHOOK_QUEUE_URL is required when WEBHOOK_QUEUE=sqs")
		}
	default:
		return fmt.Errorf("unknown WEBHOOK_QUEUE %q", c.WebhookQueue)
	}
	switch c.MetricsBackend {
	case MetricsPrometheus, MetricsCloudWatch, MetricsNone:
	default:
		return fmt.Errorf("unknown METRICS_BACKEND %q", c.MetricsBackend)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// WebhookSecrets maps carrier route names to their shared secret. A carrier
// with an empty secret accepts unsigned deliveries.
func (c *Config) WebhookSecrets() map[string]string {
	return map[string]string{
		"yalidine": c.YalidineWebhookSecret,
	}
}
