package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL string `validate:"required"`
	Port        string `validate:"required,numeric"`
	AppEnv      string `validate:"oneof=development production test"`
	AppBaseURL  string `validate:"required,url"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"`
	LogFile   string

	AllowedOrigins []string

	CronSecret string

	// Outbound notification channels.
	ResendAPIKey    string
	AlertFromEmail  string `validate:"required,email"`
	SlackWebhookURL string `validate:"omitempty,url"`

	MapboxToken   string
	MapboxTimeout time.Duration

	KafkaBrokers         []string
	KafkaViolationsTopic string

	RateLimitRPS   float64 `validate:"gt=0"`
	RateLimitBurst int     `validate:"gt=0"`

	ESMRSyncURL    string `validate:"required,url"`
	GeodataDir     string
	PollutantsFile string

	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

// EventsEnabled reports whether violation events should be published to Kafka.
func (c *Config) EventsEnabled() bool { return len(c.KafkaBrokers) > 0 && c.KafkaViolationsTopic != "" }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	rps, err := strconv.ParseFloat(envOrDefault("RATE_LIMIT_RPS", "5"), 64)
	if err != nil {
		return nil, errors.New("invalid RATE_LIMIT_RPS")
	}
	burst, err := strconv.Atoi(envOrDefault("RATE_LIMIT_BURST", "20"))
	if err != nil {
		return nil, errors.New("invalid RATE_LIMIT_BURST")
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        envOrDefault("PORT", "5050"),
		AppEnv:      envOrDefault("APP_ENV", "development"),
		AppBaseURL:  strings.TrimRight(envOrDefault("APP_BASE_URL", "http://localhost:5173"), "/"),

		LogLevel:  strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		LogFile:   os.Getenv("LOG_FILE"),

		AllowedOrigins: splitList(envOrDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),

		CronSecret: os.Getenv("CRON_SECRET"),

		ResendAPIKey:    os.Getenv("RESEND_API_KEY"),
		AlertFromEmail:  envOrDefault("ALERT_FROM_EMAIL", "alerts@stormwaterwatch.org"),
		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),

		MapboxToken:   os.Getenv("MAPBOX_TOKEN"),
		MapboxTimeout: mapboxTimeout,

		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaViolationsTopic: envOrDefault("KAFKA_VIOLATIONS_TOPIC", "stormwater.violations"),

		RateLimitRPS:   rps,
		RateLimitBurst: burst,

		ESMRSyncURL:    envOrDefault("ESMR_SYNC_URL", "https://data.ca.gov/api/3/action/datastore_search_sql"),
		GeodataDir:     envOrDefault("GEODATA_DIR", "data/geodata"),
		PollutantsFile: envOrDefault("POLLUTANTS_FILE", "data/pollutants.yaml"),

		ShutdownTimeout: shutdownTimeout,
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the production-only requirements.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config field %s: failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.IsProduction() && cfg.CronSecret == "" {
		return errors.New("CRON_SECRET is required in production")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
