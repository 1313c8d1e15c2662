// Package main runs the daily edition mailer: a small HTTP service that
// fetches the etnews PDF on a schedule trigger, strips ad pages, and
// mails it to the recipient list exactly once per day.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/turtlesoup0/itnews-sender/config"
	"github.com/turtlesoup0/itnews-sender/delivery"
	"github.com/turtlesoup0/itnews-sender/email"
	"github.com/turtlesoup0/itnews-sender/fetch"
	"github.com/turtlesoup0/itnews-sender/guard"
	"github.com/turtlesoup0/itnews-sender/ledger"
	"github.com/turtlesoup0/itnews-sender/recipients"
	"github.com/turtlesoup0/itnews-sender/redact"
	"github.com/turtlesoup0/itnews-sender/secrets"
	"github.com/turtlesoup0/itnews-sender/server"
	"github.com/turtlesoup0/itnews-sender/token"
)

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	var secretProvider secrets.Provider = secrets.Env{}
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		secretProvider = secrets.Dir{Path: dir}
	}

	signingKey, err := secrets.SigningKey(secretProvider, "UNSUBSCRIBE_SIGNING_KEY")
	if err != nil {
		logger.Error("Cannot resolve signing key", "error", err)
		os.Exit(1)
	}
	codec, err := token.New(signingKey)
	if err != nil {
		logger.Error("Cannot build token codec", "error", err)
		os.Exit(1)
	}

	// Ledger and recipient backends.
	var (
		guardLedger   guard.Ledger
		failureLedger delivery.FailureLedger
		marks         delivery.Marks
		roster        directory
	)

	switch {
	case cfg.LocalPath != "":
		logger.Info("Running in local development mode", "path", cfg.LocalPath)
		if err := os.MkdirAll(cfg.LocalPath, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
		store := ledger.NewStore(nil, "", cfg.LocalPath, signingKey, logger)
		guardLedger, failureLedger, marks = store, store, store
		roster = recipients.NewLocal(filepath.Join(cfg.LocalPath, cfg.RecipientsFile), logger)

	case cfg.Dynamo():
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("Failed to load AWS configuration", "error", err)
			os.Exit(1)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		store := ledger.NewDynamoStore(client, cfg.DeliveryTable, cfg.MarkTable, cfg.FailureTable, logger)
		guardLedger, failureLedger, marks = store, store, store
		roster = recipients.NewDynamo(client, cfg.RecipientTable, logger)

	default:
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		store := ledger.NewStore(storageClient, cfg.Bucket, "", signingKey, logger)
		guardLedger, failureLedger, marks = store, store, store
		roster = recipients.NewLocal(cfg.RecipientsFile, logger)
	}

	provider, err := initEmailProvider(ctx, cfg, secretProvider, logger)
	if err != nil {
		logger.Error("Failed to initialize email provider", "error", err)
		os.Exit(1)
	}

	builder, err := email.NewBuilder(codec, cfg.BaseURL, logger)
	if err != nil {
		logger.Error("Failed to load email templates", "error", err)
		os.Exit(1)
	}

	fetcher, err := initFetcher(cfg, secretProvider, logger)
	if err != nil {
		logger.Error("Failed to initialize fetcher", "error", err)
		os.Exit(1)
	}

	job := delivery.NewJob(delivery.JobConfig{
		Guard:      guard.New(guardLedger, logger),
		Ledger:     failureLedger,
		Marks:      marks,
		Directory:  roster,
		Fetcher:    fetcher,
		Redactor:   redact.New(cfg.TempDir, logger),
		Builder:    builder,
		Transport:  provider,
		Trends:     fetch.NewTrendClient(nil, logger),
		TrendLimit: cfg.TrendLimit,
		Timeout:    cfg.JobTimeout,
		Logger:     logger,
	})

	srv := server.New(&server.Config{
		Trigger:   job,
		Directory: roster,
		Verifier:  codec,
		Logger:    logger,
		BaseURL:   cfg.BaseURL,
	})

	if err := srv.Start(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// directory joins the two recipient views the service needs: the job
// reads the active list, the unsubscribe endpoint removes from it.
type directory interface {
	delivery.Directory
	server.Directory
}

func initEmailProvider(ctx context.Context, cfg *config.Config, sp secrets.Provider, logger *slog.Logger) (email.Provider, error) {
	switch cfg.EmailProvider {
	case "gmail":
		service, err := initGmailService(ctx)
		if err != nil {
			return nil, err
		}
		return email.NewGmailProvider(service, logger), nil

	case "smtp":
		password, err := sp.Get("SMTP_PASSWORD")
		if err != nil {
			return nil, err
		}
		return email.NewSMTPProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, password, cfg.SMTPFrom, logger), nil

	default:
		logger.Info("Mock email mode enabled")
		return email.NewMockProvider(logger), nil
	}
}

func initFetcher(cfg *config.Config, sp secrets.Provider, logger *slog.Logger) (*fetch.Client, error) {
	password, err := sp.Get("ETNEWS_PASSWORD")
	if err != nil {
		if cfg.LocalPath == "" {
			return nil, err
		}
		// Local runs without publisher credentials fail at fetch time,
		// which is fine for exercising the rest of the pipeline.
		logger.Warn("No publisher credentials, fetch will fail", "error", err)
		password = ""
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: 2 * time.Minute,
	}
	return fetch.New(client, cfg.EtnewsID, password, cfg.TempDir, logger), nil
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context) (*gmail.Service, error) {
	// Explicit credentials first, for local development.
	credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON")
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// On Cloud Run, Application Default Credentials carry the service
	// account; it needs the gmail.send scope.
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
