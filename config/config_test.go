package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// clearEnv unsets every variable Load reads, so tests are hermetic.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "BASE_URL", "LOCAL_STORAGE", "STORAGE_BUCKET",
		"DYNAMO_DELIVERY_TABLE", "DYNAMO_MARK_TABLE", "DYNAMO_FAILURE_TABLE", "DYNAMO_RECIPIENT_TABLE",
		"EMAIL_PROVIDER", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_FROM",
		"ETNEWS_ID", "TEMP_DIR", "TREND_REPORT_LIMIT", "JOB_TIMEOUT_MINUTES",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaultsToLocalMode(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LocalPath != "./data" {
		t.Errorf("LocalPath = %q, want ./data", cfg.LocalPath)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.EmailProvider != "mock" {
		t.Errorf("EmailProvider = %q, want mock", cfg.EmailProvider)
	}
	if cfg.SMTPPort != 465 {
		t.Errorf("SMTPPort = %d, want 465", cfg.SMTPPort)
	}
	if cfg.JobTimeout != 10*time.Minute {
		t.Errorf("JobTimeout = %v", cfg.JobTimeout)
	}
	if cfg.Dynamo() {
		t.Error("Dynamo() = true in local mode")
	}
}

func TestLoadProductionRequiresBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BUCKET", "etnews-ledger")

	if _, err := Load(testLogger()); err == nil {
		t.Error("Load() without BASE_URL in production should error")
	}
}

func TestLoadDynamoBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASE_URL", "https://news.example.com")
	t.Setenv("DYNAMO_DELIVERY_TABLE", "etnews-delivery-history")
	t.Setenv("DYNAMO_MARK_TABLE", "etnews-recipient-marks")
	t.Setenv("DYNAMO_FAILURE_TABLE", "etnews-delivery-failures")
	t.Setenv("DYNAMO_RECIPIENT_TABLE", "etnews-recipients")

	cfg, err := Load(testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Dynamo() {
		t.Error("Dynamo() = false with delivery table set")
	}
}

func TestLoadDynamoBackendIncomplete(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASE_URL", "https://news.example.com")
	t.Setenv("DYNAMO_DELIVERY_TABLE", "etnews-delivery-history")

	if _, err := Load(testLogger()); err == nil {
		t.Error("Load() with partial DynamoDB config should error")
	}
}

func TestLoadSMTPValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMAIL_PROVIDER", "smtp")

	if _, err := Load(testLogger()); err == nil {
		t.Error("Load() smtp provider without username/from should error")
	}

	t.Setenv("SMTP_USERNAME", "sender@gmail.com")
	t.Setenv("SMTP_FROM", "sender@gmail.com")
	cfg, err := Load(testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SMTPHost != "smtp.gmail.com" {
		t.Errorf("SMTPHost = %q", cfg.SMTPHost)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMAIL_PROVIDER", "carrier-pigeon")

	if _, err := Load(testLogger()); err == nil {
		t.Error("Load() with unknown provider should error")
	}
}
