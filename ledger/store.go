package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// Store keeps ledger records as JSON objects in a Cloud Storage bucket,
// or in a local directory when localPath is set (development mode).
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	salt      []byte
}

// NewStore creates an object-store backed ledger.
func NewStore(client *storage.Client, bucket, localPath string, salt []byte, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		salt:      salt,
		localPath: localPath,
		bucket:    bucket,
	}
}

// HasDeliveredToday reports whether a delivered-status record exists
// for date. Infrastructure errors are logged and reported as false:
// the daily job staying available matters more than strict duplicate
// prevention, and the recipient-level marks are the real backstop.
func (s *Store) HasDeliveredToday(ctx context.Context, date string) bool {
	rec, err := s.DeliveryRecord(ctx, date)
	if err != nil {
		if !IsNotFound(err) {
			s.logger.Warn("Ledger read failed, treating day as undelivered", "date", date, "error", err)
		}
		return false
	}
	return rec.Status == newsletter.StatusDelivered
}

// DeliveryRecord loads the record for date, or ErrNotFound.
func (s *Store) DeliveryRecord(ctx context.Context, date string) (*newsletter.DeliveryRecord, error) {
	var rec newsletter.DeliveryRecord
	if err := s.load(ctx, deliveryKey(date), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkDelivered upserts the day record. Writing twice for the same
// date is safe and simply refreshes the count and timestamp.
func (s *Store) MarkDelivered(ctx context.Context, rec *newsletter.DeliveryRecord) error {
	if err := s.save(ctx, deliveryKey(rec.Date), rec); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	s.logger.Info("Delivery recorded",
		"date", rec.Date,
		"status", rec.Status,
		"recipient_count", rec.RecipientCount)
	return nil
}

// RecipientLastDelivery returns the last date email was successfully
// sent mail, or "" when the recipient has no mark.
func (s *Store) RecipientLastDelivery(ctx context.Context, email string) (string, error) {
	var mark newsletter.RecipientMark
	if err := s.load(ctx, markName(s.salt, email), &mark); err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return mark.LastDeliveryDate, nil
}

// MarkRecipientDelivered records that email received date's edition.
func (s *Store) MarkRecipientDelivered(ctx context.Context, email, date string) error {
	mark := newsletter.RecipientMark{Email: email, LastDeliveryDate: date}
	if err := s.save(ctx, markName(s.salt, email), &mark); err != nil {
		return fmt.Errorf("mark recipient delivered: %w", err)
	}
	return nil
}

// FailureCount returns today's recorded fetch-failure count. Errors
// degrade to zero so a ledger outage never blocks the job.
func (s *Store) FailureCount(ctx context.Context, date string) int {
	var rec FailureRecord
	if err := s.load(ctx, failureKey(date), &rec); err != nil {
		if !IsNotFound(err) {
			s.logger.Warn("Failure count read failed, assuming zero", "date", date, "error", err)
		}
		return 0
	}
	return rec.Count
}

// RecordFailure increments the day's failure count and returns the new
// value. The read-modify-write is not atomic across invocations; an
// undercounted failure only delays the skip by one attempt.
func (s *Store) RecordFailure(ctx context.Context, date, reason string) (int, error) {
	rec := FailureRecord{Date: date}
	if err := s.load(ctx, failureKey(date), &rec); err != nil && !IsNotFound(err) {
		return 0, err
	}
	rec.Count++
	rec.LastError = truncateReason(reason)
	rec.UpdatedAt = time.Now().In(newsletter.KST)

	if err := s.save(ctx, failureKey(date), &rec); err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	s.logger.Info("Fetch failure recorded", "date", date, "count", rec.Count)
	return rec.Count, nil
}

// ResetFailures clears the day's failure count. Deleting a record that
// does not exist is a no-op.
func (s *Store) ResetFailures(ctx context.Context, date string) error {
	return s.delete(ctx, failureKey(date))
}

func (s *Store) load(ctx context.Context, key string, v any) error {
	var data []byte

	// Local filesystem storage
	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return ErrNotFound
			}
			return fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		// Cloud Storage with retry logic for reliability
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					// Don't retry on "not found" errors
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(ErrNotFound)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(30*time.Second),
			retry.MaxJitter(5*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying ledger read after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			if IsNotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal ledger record: %w", err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger record: %w", err)
	}

	// Local filesystem storage
	if s.localPath != "" {
		path := filepath.Join(s.localPath, key)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Debug("Ledger record saved to local storage", "path", path)
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying ledger write after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	// Local filesystem storage
	if s.localPath != "" {
		if err := os.Remove(filepath.Join(s.localPath, key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				// Deletion is idempotent; "not found" is success.
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying ledger delete after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}
	return nil
}
