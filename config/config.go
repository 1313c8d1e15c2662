// Package config loads runtime configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration. Secrets (passwords, signing
// keys) are resolved separately; only their locations live here.
type Config struct {
	Port    string
	BaseURL string

	// LocalPath enables local development mode: the ledger and the
	// recipient list live under this directory instead of cloud
	// backends. Empty means production.
	LocalPath string

	// GCS ledger backend.
	Bucket string

	// DynamoDB backend. Setting DeliveryTable selects it over GCS.
	DeliveryTable  string
	MarkTable      string
	FailureTable   string
	RecipientTable string

	// RecipientsFile is the JSON list used when no recipient table is
	// configured.
	RecipientsFile string

	// EmailProvider selects the transport: gmail, smtp, or mock.
	EmailProvider string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPFrom      string

	// EtnewsID is the publisher account; the password is a secret.
	EtnewsID string

	TempDir    string
	TrendLimit int
	JobTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present.
func Load(logger *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else {
		logger.Info("Loaded configuration from .env file")
	}

	cfg := &Config{
		Port:           getenv("PORT", "8080"),
		BaseURL:        os.Getenv("BASE_URL"),
		LocalPath:      os.Getenv("LOCAL_STORAGE"),
		Bucket:         os.Getenv("STORAGE_BUCKET"),
		DeliveryTable:  os.Getenv("DYNAMO_DELIVERY_TABLE"),
		MarkTable:      os.Getenv("DYNAMO_MARK_TABLE"),
		FailureTable:   os.Getenv("DYNAMO_FAILURE_TABLE"),
		RecipientTable: os.Getenv("DYNAMO_RECIPIENT_TABLE"),
		RecipientsFile: getenv("RECIPIENTS_FILE", "recipients.json"),
		EmailProvider:  getenv("EMAIL_PROVIDER", "mock"),
		SMTPHost:       getenv("SMTP_HOST", "smtp.gmail.com"),
		SMTPUsername:   os.Getenv("SMTP_USERNAME"),
		SMTPFrom:       os.Getenv("SMTP_FROM"),
		EtnewsID:       os.Getenv("ETNEWS_ID"),
		TempDir:        os.Getenv("TEMP_DIR"),
	}

	var err error
	if cfg.SMTPPort, err = getenvInt("SMTP_PORT", 465); err != nil {
		return nil, err
	}
	if cfg.TrendLimit, err = getenvInt("TREND_REPORT_LIMIT", 5); err != nil {
		return nil, err
	}

	timeoutMin, err := getenvInt("JOB_TIMEOUT_MINUTES", 10)
	if err != nil {
		return nil, err
	}
	cfg.JobTimeout = time.Duration(timeoutMin) * time.Minute

	// Default to local development mode when no backend is named.
	if cfg.Bucket == "" && cfg.DeliveryTable == "" && cfg.LocalPath == "" {
		cfg.LocalPath = "./data"
		logger.Info("No storage backend configured, defaulting to local development mode", "path", cfg.LocalPath)
	}
	if cfg.LocalPath != "" && cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.EmailProvider {
	case "gmail", "smtp", "mock":
	default:
		return fmt.Errorf("EMAIL_PROVIDER %q: want gmail, smtp, or mock", c.EmailProvider)
	}

	if c.LocalPath == "" {
		if c.BaseURL == "" {
			return fmt.Errorf("BASE_URL required in production (e.g. https://news.example.com)")
		}
		if c.DeliveryTable != "" {
			if c.MarkTable == "" || c.FailureTable == "" || c.RecipientTable == "" {
				return fmt.Errorf("DynamoDB backend needs DYNAMO_MARK_TABLE, DYNAMO_FAILURE_TABLE, and DYNAMO_RECIPIENT_TABLE")
			}
		}
	}

	if c.EmailProvider == "smtp" {
		if c.SMTPUsername == "" || c.SMTPFrom == "" {
			return fmt.Errorf("smtp provider needs SMTP_USERNAME and SMTP_FROM")
		}
	}
	return nil
}

// Dynamo reports whether the DynamoDB backend is selected.
func (c *Config) Dynamo() bool {
	return c.LocalPath == "" && c.DeliveryTable != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
