package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Workflow transports supported for triggering the external appraisal workflow.
const (
	TransportWebhook = "webhook"
	TransportAMQP    = "amqp"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	CORS       CORSConfig
	Session    SessionConfig
	Workflow   WorkflowConfig
	Callback   CallbackConfig
	Revalidate RevalidateConfig
	Status     StatusConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	MaxUploadMB int
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// SessionConfig holds the signing configuration for session tokens.
type SessionConfig struct {
	Secret string
	TTL    time.Duration
}

// WorkflowConfig describes how submissions are handed to the external workflow.
type WorkflowConfig struct {
	Transport      string
	WebhookURL     string
	Timeout        time.Duration
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
}

// CallbackConfig holds the shared secret expected on workflow callbacks.
// An empty secret is not a startup error: the receive endpoint answers 500.
type CallbackConfig struct {
	Secret string
}

// RevalidateConfig points at the frontend cache invalidation hook. Optional.
type RevalidateConfig struct {
	URL    string
	Secret string
}

// StatusConfig controls how pending appraisals are observed.
type StatusConfig struct {
	PendingTimeout time.Duration
	PollInterval   time.Duration
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("MAX_UPLOAD_MB", 64)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "peritaje")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("WORKFLOW_TRANSPORT", TransportWebhook)
	v.SetDefault("WORKFLOW_TIMEOUT", "30s")
	v.SetDefault("AMQP_EXCHANGE", "peritaje")
	v.SetDefault("AMQP_ROUTING_KEY", "appraisal.requested")
	v.SetDefault("PENDING_TIMEOUT", "15m")
	v.SetDefault("STATUS_POLL_INTERVAL", "5s")

	// Bind environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("PORT"),
			Env:         v.GetString("ENV"),
			LogLevel:    v.GetString("LOG_LEVEL"),
			MaxUploadMB: v.GetInt("MAX_UPLOAD_MB"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Session: SessionConfig{
			Secret: v.GetString("SESSION_SECRET"),
			TTL:    v.GetDuration("SESSION_TTL"),
		},
		Workflow: WorkflowConfig{
			Transport:      strings.ToLower(v.GetString("WORKFLOW_TRANSPORT")),
			WebhookURL:     v.GetString("WORKFLOW_WEBHOOK_URL"),
			Timeout:        v.GetDuration("WORKFLOW_TIMEOUT"),
			AMQPURL:        v.GetString("AMQP_URL"),
			AMQPExchange:   v.GetString("AMQP_EXCHANGE"),
			AMQPRoutingKey: v.GetString("AMQP_ROUTING_KEY"),
		},
		Callback: CallbackConfig{
			Secret: v.GetString("WEBHOOK_SECRET"),
		},
		Revalidate: RevalidateConfig{
			URL:    v.GetString("REVALIDATE_URL"),
			Secret: v.GetString("REVALIDATE_SECRET"),
		},
		Status: StatusConfig{
			PendingTimeout: v.GetDuration("PENDING_TIMEOUT"),
			PollInterval:   v.GetDuration("STATUS_POLL_INTERVAL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_MB must be at least 1")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	switch c.Workflow.Transport {
	case TransportWebhook:
		if c.Workflow.WebhookURL == "" {
			return fmt.Errorf("WORKFLOW_WEBHOOK_URL is required for the webhook transport")
		}
	case TransportAMQP:
		if c.Workflow.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for the amqp transport")
		}
		if c.Workflow.AMQPRoutingKey == "" {
			return fmt.Errorf("AMQP_ROUTING_KEY is required for the amqp transport")
		}
	default:
		return fmt.Errorf("WORKFLOW_TRANSPORT must be one of %q or %q", TransportWebhook, TransportAMQP)
	}
	if c.Workflow.Timeout <= 0 {
		return fmt.Errorf("WORKFLOW_TIMEOUT must be positive")
	}

	if c.Status.PendingTimeout <= 0 {
		return fmt.Errorf("PENDING_TIMEOUT must be positive")
	}
	if c.Status.PollInterval <= 0 {
		return fmt.Errorf("STATUS_POLL_INTERVAL must be positive")
	}

	return nil
}

// IsProduction reports whether the service runs with ENV=production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
