package ledger

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

func newLocalStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewStore(nil, "", t.TempDir(), []byte("test-salt"), logger)
}

func TestHasDeliveredTodayEmptyLedger(t *testing.T) {
	s := newLocalStore(t)
	if s.HasDeliveredToday(context.Background(), "2026-01-27") {
		t.Error("HasDeliveredToday() on empty ledger = true, want false")
	}
}

func TestMarkDeliveredThenHasDelivered(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	rec := &newsletter.DeliveryRecord{
		Date:           "2026-01-27",
		DeliveredAt:    time.Date(2026, time.January, 27, 7, 30, 0, 0, newsletter.KST),
		RecipientCount: 6,
		Status:         newsletter.StatusDelivered,
		EditionTitle:   "전자신문 [2026-01-27]",
	}
	if err := s.MarkDelivered(ctx, rec); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}

	if !s.HasDeliveredToday(ctx, "2026-01-27") {
		t.Error("HasDeliveredToday() after mark = false, want true")
	}
	if s.HasDeliveredToday(ctx, "2026-01-28") {
		t.Error("HasDeliveredToday() for another date = true, want false")
	}

	got, err := s.DeliveryRecord(ctx, "2026-01-27")
	if err != nil {
		t.Fatalf("DeliveryRecord() error = %v", err)
	}
	if got.RecipientCount != 6 || got.Status != newsletter.StatusDelivered {
		t.Errorf("DeliveryRecord() = %+v, want count 6 delivered", got)
	}
}

func TestMarkDeliveredUpsert(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	for _, count := range []int{3, 6} {
		rec := &newsletter.DeliveryRecord{
			Date:           "2026-01-27",
			DeliveredAt:    time.Now(),
			RecipientCount: count,
			Status:         newsletter.StatusDelivered,
		}
		if err := s.MarkDelivered(ctx, rec); err != nil {
			t.Fatalf("MarkDelivered() error = %v", err)
		}
	}

	got, err := s.DeliveryRecord(ctx, "2026-01-27")
	if err != nil {
		t.Fatalf("DeliveryRecord() error = %v", err)
	}
	if got.RecipientCount != 6 {
		t.Errorf("RecipientCount after second write = %d, want 6", got.RecipientCount)
	}
}

func TestPartialRecordDoesNotBlockRetry(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	rec := &newsletter.DeliveryRecord{
		Date:           "2026-01-27",
		DeliveredAt:    time.Now(),
		RecipientCount: 4,
		Status:         newsletter.StatusPartial,
	}
	if err := s.MarkDelivered(ctx, rec); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}
	if s.HasDeliveredToday(ctx, "2026-01-27") {
		t.Error("HasDeliveredToday() with partial record = true, want false so retries reach the remainder")
	}
}

func TestRecipientMarks(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	last, err := s.RecipientLastDelivery(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("RecipientLastDelivery() error = %v", err)
	}
	if last != "" {
		t.Errorf("RecipientLastDelivery() before mark = %q, want empty", last)
	}

	if err := s.MarkRecipientDelivered(ctx, "user@example.com", "2026-01-27"); err != nil {
		t.Fatalf("MarkRecipientDelivered() error = %v", err)
	}

	last, err = s.RecipientLastDelivery(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("RecipientLastDelivery() error = %v", err)
	}
	if last != "2026-01-27" {
		t.Errorf("RecipientLastDelivery() = %q, want 2026-01-27", last)
	}

	// Lookup is case- and whitespace-insensitive, like the token salt.
	last, err = s.RecipientLastDelivery(ctx, "  USER@example.com ")
	if err != nil {
		t.Fatalf("RecipientLastDelivery() error = %v", err)
	}
	if last != "2026-01-27" {
		t.Errorf("RecipientLastDelivery() normalized = %q, want 2026-01-27", last)
	}
}

func TestFailureCounting(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	if got := s.FailureCount(ctx, "2026-01-27"); got != 0 {
		t.Errorf("FailureCount() initial = %d, want 0", got)
	}

	for want := 1; want <= 3; want++ {
		got, err := s.RecordFailure(ctx, "2026-01-27", "connection refused")
		if err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
		if got != want {
			t.Errorf("RecordFailure() = %d, want %d", got, want)
		}
	}

	if err := s.ResetFailures(ctx, "2026-01-27"); err != nil {
		t.Fatalf("ResetFailures() error = %v", err)
	}
	if got := s.FailureCount(ctx, "2026-01-27"); got != 0 {
		t.Errorf("FailureCount() after reset = %d, want 0", got)
	}

	// Resetting again must be a no-op.
	if err := s.ResetFailures(ctx, "2026-01-27"); err != nil {
		t.Errorf("ResetFailures() on missing record error = %v, want nil", err)
	}
}

func TestReadFailureDegradesToUndelivered(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	// Point the store at a path that cannot be a directory.
	s := NewStore(nil, "", "/dev/null/nope", []byte("salt"), logger)

	if s.HasDeliveredToday(context.Background(), "2026-01-27") {
		t.Error("HasDeliveredToday() on broken backend = true, want false (unknown means not yet delivered)")
	}
	if got := s.FailureCount(context.Background(), "2026-01-27"); got != 0 {
		t.Errorf("FailureCount() on broken backend = %d, want 0", got)
	}
}
