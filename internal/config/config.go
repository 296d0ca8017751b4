package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"fintrack/internal/insight"
	"fintrack/internal/log"
	"fintrack/internal/repository"
	"fintrack/internal/subscription"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

var validBackends = []string{BackendMemory, BackendSQLite, BackendPostgres}

type Config struct {
	// HTTP Server
	Port string `koanf:"PORT"`

	// Workspace
	PrincipalID     string `koanf:"PRINCIPAL_ID"`
	Currency        string `koanf:"CURRENCY"`
	TrendWindowDays int    `koanf:"TREND_WINDOW_DAYS"`

	// Backend selection
	DataBackend   string `koanf:"DATA_BACKEND"`
	DataDirectory string `koanf:"DATA_DIRECTORY"`
	SQLiteDBPath  string `koanf:"SQLITE_DB_PATH"`
	PostgresDSN   string `koanf:"POSTGRES_DSN"`

	// AMQP change feed (sqlite backend only)
	AMQPURL      string `koanf:"AMQP_URL"`
	AMQPExchange string `koanf:"AMQP_EXCHANGE"`

	// Retry policies
	FetchMaxAttempts     uint          `koanf:"FETCH_MAX_ATTEMPTS"`
	SubscribeMaxAttempts uint          `koanf:"SUBSCRIBE_MAX_ATTEMPTS"`
	SubscribeBaseDelay   time.Duration `koanf:"SUBSCRIBE_BASE_DELAY"`
	SubscribeMaxDelay    time.Duration `koanf:"SUBSCRIBE_MAX_DELAY"`

	// Insights
	GeminiAPIKey       string        `koanf:"GEMINI_API_KEY"`
	GeminiModel        string        `koanf:"GEMINI_MODEL"`
	InsightMaxAttempts uint          `koanf:"INSIGHT_MAX_ATTEMPTS"`
	InsightBaseDelay   time.Duration `koanf:"INSIGHT_BASE_DELAY"`
	InsightCacheTTL    time.Duration `koanf:"INSIGHT_CACHE_TTL"`

	// Google Sheets report publishing
	GoogleSpreadsheetID      string `koanf:"GOOGLE_SPREADSHEET_ID"`
	GoogleServiceAccountFile string `koanf:"GOOGLE_SERVICE_ACCOUNT_FILE"`
	GoogleServiceAccountJSON string `koanf:"GOOGLE_SERVICE_ACCOUNT_JSON"`

	// Logging
	LogLevel  string `koanf:"LOG_LEVEL"`
	LogFormat string `koanf:"LOG_FORMAT"`
}

// Defaults is the configuration used for every key the environment leaves
// unset.
func Defaults() Config {
	return Config{
		Port:                 "8081",
		Currency:             "EUR",
		TrendWindowDays:      30,
		DataBackend:          BackendMemory,
		DataDirectory:        "data",
		SQLiteDBPath:         "./data/fintrack.db",
		AMQPExchange:         "fintrack",
		FetchMaxAttempts:     3,
		SubscribeMaxAttempts: 6,
		SubscribeBaseDelay:   time.Second,
		SubscribeMaxDelay:    32 * time.Second,
		GeminiModel:          insight.DefaultModel,
		InsightMaxAttempts:   5,
		InsightBaseDelay:     time.Second,
		InsightCacheTTL:      15 * time.Minute,
		LogLevel:             "INFO",
		LogFormat:            "text",
	}
}

// Load reads .env when present, then the process environment, over
// Defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration and returns every problem at once
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if strings.TrimSpace(c.PrincipalID) == "" {
		errors = append(errors, "PRINCIPAL_ID is required")
	}

	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.DataBackend == BackendPostgres && c.PostgresDSN == "" {
		errors = append(errors, "POSTGRES_DSN is required when using postgres backend")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.TrendWindowDays < 1 || c.TrendWindowDays > 366 {
		errors = append(errors, fmt.Sprintf("invalid trend window %d: must be between 1 and 366 days", c.TrendWindowDays))
	}
	if c.FetchMaxAttempts < 1 {
		errors = append(errors, "FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.SubscribeMaxAttempts < 1 {
		errors = append(errors, "SUBSCRIBE_MAX_ATTEMPTS must be at least 1")
	}
	if c.SubscribeBaseDelay <= 0 || c.SubscribeMaxDelay < c.SubscribeBaseDelay {
		errors = append(errors, fmt.Sprintf("invalid subscribe delays %v..%v: base must be positive and not above max", c.SubscribeBaseDelay, c.SubscribeMaxDelay))
	}
	if c.InsightMaxAttempts < 1 {
		errors = append(errors, "INSIGHT_MAX_ATTEMPTS must be at least 1")
	}

	if c.GoogleSpreadsheetID != "" && c.GoogleServiceAccountFile == "" && c.GoogleServiceAccountJSON == "" {
		errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided with GOOGLE_SPREADSHEET_ID")
	}
	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func (c *Config) FetchRetry() repository.Retry {
	r := repository.DefaultRetry()
	r.Attempts = c.FetchMaxAttempts
	return r
}

func (c *Config) SubscribePolicy() subscription.Policy {
	return subscription.Policy{
		Attempts:  c.SubscribeMaxAttempts,
		BaseDelay: c.SubscribeBaseDelay,
		MaxDelay:  c.SubscribeMaxDelay,
	}
}

func (c *Config) InsightOptions() insight.Options {
	opts := insight.DefaultOptions()
	opts.Attempts = c.InsightMaxAttempts
	opts.BaseDelay = c.InsightBaseDelay
	opts.CacheTTL = c.InsightCacheTTL
	return opts
}

func (c *Config) LogConfig() log.Config {
	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(c.LogLevel)
	lc.Format = c.LogFormat
	return lc
}
