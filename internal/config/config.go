package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverDynamoDB = "dynamodb"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	App       AppConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Dialogue  DialogueConfig
	WhatsApp  WhatsAppConfig
	Messaging MessagingConfig
	Telemetry TelemetryConfig
}

type AppConfig struct {
	Name        string
	Environment string
	ParamPrefix string
	LogFilePath string
}

type StorageConfig struct {
	Driver        string
	StateTable    string
	DatabaseDSN   string
	RetryAttempts int
	// StateTTL expires DynamoDB items; zero keeps them.
	StateTTL      time.Duration
}

type LLMConfig struct {
	Model       string
	BaseURL     string
	Temperature float64
}

type DialogueConfig struct {
	HistoryLimit            int
	HistoryTruncation       string
	ExtractionFailurePolicy string
	MaxMessageLength        int
	// EmergencyPhrases overrides the built-in guard list when non-empty.
	EmergencyPhrases        []string
}

// WhatsAppConfig is optional as a whole; an empty PhoneNumberID disables the
// messaging channel.
type WhatsAppConfig struct {
	PhoneNumberID string
	VerifyToken   string
	AppSecret     string
	HashSalt      string
}

type MessagingConfig struct {
	RedisURL string
	NatsURL  string
}

type TelemetryConfig struct {
	OtelEnabled  bool
	OtelEndpoint string
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

func (w WhatsAppConfig) Enabled() bool {
	return w.PhoneNumberID != ""
}

// Load reads an optional .env file, then the environment. Every missing or
// invalid key is reported in one error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "triage-agent"),
			Environment: getEnv("ENV", "development"),
			ParamPrefix: strings.TrimRight(getEnv("PARAM_PREFIX", ""), "/"),
			LogFilePath: getEnv("LOG_FILE_PATH", ""),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(getEnv("STORAGE_DRIVER", DriverDynamoDB)),
			StateTable:    getEnv("STATE_TABLE", ""),
			DatabaseDSN:   getEnv("DATABASE_DSN", ""),
			RetryAttempts: getEnvInt("STORAGE_RETRY_ATTEMPTS", 3),
			StateTTL:      getEnvDuration("STATE_TTL", 30*24*time.Hour),
		},
		LLM: LLMConfig{
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
		},
		Dialogue: DialogueConfig{
			HistoryLimit:            getEnvInt("HISTORY_LIMIT", 50),
			HistoryTruncation:       getEnv("HISTORY_TRUNCATION", "reset"),
			ExtractionFailurePolicy: getEnv("EXTRACTION_FAILURE_POLICY", "close"),
			MaxMessageLength:        getEnvInt("MAX_MESSAGE_LENGTH", 2000),
			EmergencyPhrases:        getEnvList("EMERGENCY_PHRASES"),
		},
		WhatsApp: WhatsAppConfig{
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			VerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
			AppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
			HashSalt:      getEnv("HASH_SALT", ""),
		},
		Messaging: MessagingConfig{
			RedisURL: getEnv("REDIS_URL", ""),
			NatsURL:  getEnv("NATS_URL", ""),
		},
		Telemetry: TelemetryConfig{
			OtelEnabled:  getEnvBool("OTEL_ENABLED", false),
			OtelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.App.ParamPrefix == "" {
		errs = append(errs, errors.New("PARAM_PREFIX is required"))
	}

	switch c.Storage.Driver {
	case DriverDynamoDB:
		if c.Storage.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb driver"))
		}
	case DriverPostgres, DriverSQLite:
		if c.Storage.DatabaseDSN == "" {
			errs = append(errs, fmt.Errorf("DATABASE_DSN is required for the %s driver", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER %q is not one of dynamodb, postgres, sqlite", c.Storage.Driver))
	}

	if c.Storage.StateTTL < 0 {
		errs = append(errs, fmt.Errorf("STATE_TTL %v must not be negative", c.Storage.StateTTL))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE %v is outside [0,2]", c.LLM.Temperature))
	}
	switch strings.ToLower(c.Dialogue.HistoryTruncation) {
	case "reset", "after_marker":
	default:
		errs = append(errs, fmt.Errorf("HISTORY_TRUNCATION %q is not one of reset, after_marker", c.Dialogue.HistoryTruncation))
	}
	switch strings.ToLower(c.Dialogue.ExtractionFailurePolicy) {
	case "close", "retry", "continue":
	default:
		errs = append(errs, fmt.Errorf("EXTRACTION_FAILURE_POLICY %q is not one of close, retry, continue", c.Dialogue.ExtractionFailurePolicy))
	}

	if c.WhatsApp.Enabled() {
		if c.WhatsApp.VerifyToken == "" {
			errs = append(errs, errors.New("WHATSAPP_VERIFY_TOKEN is required when WHATSAPP_PHONE_NUMBER_ID is set"))
		}
		if c.WhatsApp.HashSalt == "" {
			errs = append(errs, errors.New("HASH_SALT is required when WHATSAPP_PHONE_NUMBER_ID is set"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// getEnv treats a blank value as unset.
func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping blank entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
