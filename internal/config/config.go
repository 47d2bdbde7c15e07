package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Backends accepted in DATA_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	// HTTP Server
	Port       string
	CronSecret string

	// Database
	DataBackend  string
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets mirror
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleCredentialsFile string
	GoogleCredentialsJSON string

	// Sync worker
	SyncBatchSize  int
	SyncInterval   time.Duration
	SyncMaxRetries int

	// Recurring jobs
	ProcessorInterval time.Duration
	JobConcurrency    int
	Timezone          string

	LogLevel string
}

// Load reads configuration from the environment and, when RICORRENTI_CONFIG
// points to one, a config file. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "8081")
	v.SetDefault("cron_secret", "")
	v.SetDefault("data_backend", BackendSQLite)
	v.SetDefault("sqlite_db_path", "./data/ricorrenti.db")
	v.SetDefault("amqp_url", "")
	v.SetDefault("amqp_exchange", "ricorrenti")
	v.SetDefault("amqp_queue", "sync_ledger_entries")
	v.SetDefault("google_spreadsheet_id", "")
	v.SetDefault("google_sheet_name", "")
	v.SetDefault("google_service_account_file", "")
	v.SetDefault("google_service_account_json", "")
	v.SetDefault("sync_batch_size", 10)
	v.SetDefault("sync_interval", 30*time.Second)
	v.SetDefault("sync_max_retries", 3)
	v.SetDefault("recurring_processor_interval", time.Hour)
	v.SetDefault("job_concurrency", 4)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("log_level", "info")

	if path := os.Getenv("RICORRENTI_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	return &Config{
		Port:       v.GetString("port"),
		CronSecret: v.GetString("cron_secret"),

		DataBackend:  strings.ToLower(v.GetString("data_backend")),
		SQLiteDBPath: v.GetString("sqlite_db_path"),

		AMQPURL:      v.GetString("amqp_url"),
		AMQPExchange: v.GetString("amqp_exchange"),
		AMQPQueue:    v.GetString("amqp_queue"),

		GoogleSpreadsheetID:   v.GetString("google_spreadsheet_id"),
		GoogleSheetName:       v.GetString("google_sheet_name"),
		GoogleCredentialsFile: v.GetString("google_service_account_file"),
		GoogleCredentialsJSON: v.GetString("google_service_account_json"),

		SyncBatchSize:  v.GetInt("sync_batch_size"),
		SyncInterval:   v.GetDuration("sync_interval"),
		SyncMaxRetries: v.GetInt("sync_max_retries"),

		ProcessorInterval: v.GetDuration("recurring_processor_interval"),
		JobConcurrency:    v.GetInt("job_concurrency"),
		Timezone:          v.GetString("timezone"),

		LogLevel: strings.ToLower(v.GetString("log_level")),
	}, nil
}

// Location returns the time zone that decides "today" for the recurring jobs.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate validates the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{BackendMemory, BackendSQLite}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}
	if c.DataBackend == BackendSQLite && c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
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
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleCredentialsFile != "" {
		if _, err := os.Stat(c.GoogleCredentialsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleCredentialsFile))
		}
	}

	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}
	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}
	if c.SyncMaxRetries < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync max retries %d: must be at least 1", c.SyncMaxRetries))
	}

	if c.ProcessorInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid recurring processor interval %v: must be at least 1 minute", c.ProcessorInterval))
	} else if c.ProcessorInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid recurring processor interval %v: must be at most 24 hours", c.ProcessorInterval))
	}
	if c.JobConcurrency < 1 || c.JobConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid job concurrency %d: must be between 1 and 64", c.JobConcurrency))
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s'", c.Timezone))
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
