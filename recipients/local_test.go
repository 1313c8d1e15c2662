package recipients

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewLocal(filepath.Join(t.TempDir(), "recipients.json"), logger)
}

func TestActiveOnMissingFile(t *testing.T) {
	l := newTestLocal(t)
	active, err := l.Active(context.Background())
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Active() on missing file = %d recipients, want 0", len(active))
	}
}

func TestSubscribeThenActive(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if err := l.Subscribe(ctx, "User@Example.com ", "홍길동"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := l.Subscribe(ctx, "second@example.com", ""); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	active, err := l.Active(ctx)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("Active() = %d recipients, want 2", len(active))
	}
	if active[0].Email != "user@example.com" {
		t.Errorf("email not normalized: %q", active[0].Email)
	}
	if active[0].Name != "홍길동" {
		t.Errorf("Name = %q", active[0].Name)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	for range 3 {
		if err := l.Subscribe(ctx, "user@example.com", "홍길동"); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	active, err := l.Active(ctx)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Active() after repeat subscribes = %d, want 1", len(active))
	}
}

func TestUnsubscribe(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if err := l.Subscribe(ctx, "user@example.com", ""); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := l.Unsubscribe(ctx, "USER@example.com"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	active, err := l.Active(ctx)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Active() after unsubscribe = %d, want 0", len(active))
	}

	// Idempotent second unsubscribe.
	if err := l.Unsubscribe(ctx, "user@example.com"); err != nil {
		t.Errorf("second Unsubscribe() error = %v, want nil", err)
	}
}

func TestUnsubscribeUnknownAddress(t *testing.T) {
	l := newTestLocal(t)
	if err := l.Unsubscribe(context.Background(), "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Unsubscribe() unknown = %v, want ErrNotFound", err)
	}
}

func TestResubscribeReactivates(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if err := l.Subscribe(ctx, "user@example.com", ""); err != nil {
		t.Fatal(err)
	}
	if err := l.Unsubscribe(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := l.Subscribe(ctx, "user@example.com", ""); err != nil {
		t.Fatal(err)
	}

	active, err := l.Active(ctx)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Active() after resubscribe = %d, want 1", len(active))
	}
}
