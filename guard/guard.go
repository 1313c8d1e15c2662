// Package guard wraps the ledger with the job's entry and exit policy:
// whether a scheduled invocation should run at all, and what it records
// when it finishes.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// Mode selects the invocation path.
type Mode string

const (
	// ModeRehearsal exercises the full pipeline but never writes to
	// the ledger, so validation runs cannot pollute production state.
	ModeRehearsal Mode = "rehearsal"
	// ModeLive is the scheduled production path.
	ModeLive Mode = "live"
)

// ParseMode parses a mode selector; an empty string means live.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeLive):
		return ModeLive, nil
	case string(ModeRehearsal):
		return ModeRehearsal, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want rehearsal or live)", s)
	}
}

// maxDailyFailures is the fetch-failure budget per day; beyond it the
// guard stops re-attempting until the next day.
const maxDailyFailures = 3

// Ledger is the slice of delivery history the guard consults.
type Ledger interface {
	HasDeliveredToday(ctx context.Context, date string) bool
	MarkDelivered(ctx context.Context, rec *newsletter.DeliveryRecord) error
	FailureCount(ctx context.Context, date string) int
}

// Guard gates job execution.
type Guard struct {
	ledger Ledger
	logger *slog.Logger
}

// New creates a guard over the given ledger.
func New(ledger Ledger, logger *slog.Logger) *Guard {
	return &Guard{ledger: ledger, logger: logger}
}

// ShouldSkip decides, before any expensive work, whether this
// invocation should stop. Rehearsal mode always proceeds. In live mode
// an empty recipient set short-circuits here, before the fetch — the
// system this replaces scraped and processed the whole edition only to
// mail nobody.
func (g *Guard) ShouldSkip(ctx context.Context, mode Mode, date string, activeRecipients int) (bool, string) {
	if mode == ModeRehearsal {
		return false, ""
	}

	if activeRecipients == 0 {
		g.logger.Info("No active recipients, skipping before fetch", "date", date)
		return true, "no active recipients"
	}

	if count := g.ledger.FailureCount(ctx, date); count >= maxDailyFailures {
		g.logger.Warn("Daily failure budget exhausted, skipping", "date", date, "failures", count)
		return true, fmt.Sprintf("fetch failed %d times today", count)
	}

	if g.ledger.HasDeliveredToday(ctx, date) {
		g.logger.Info("Already delivered today, skipping", "date", date)
		return true, "already delivered today"
	}

	return false, ""
}

// RecordOutcome persists the day record after a run. It writes only in
// live mode and only when at least one recipient was actually
// delivered: a fully failed or empty batch must leave the ledger
// untouched so a same-day retry can still attempt delivery.
func (g *Guard) RecordOutcome(ctx context.Context, mode Mode, date string, succeeded, failed int, editionTitle string) error {
	if mode != ModeLive {
		g.logger.Info("Rehearsal mode, not recording delivery", "date", date, "succeeded", succeeded, "failed", failed)
		return nil
	}
	if succeeded == 0 {
		g.logger.Warn("No recipients delivered, not recording", "date", date, "failed", failed)
		return nil
	}

	status := newsletter.StatusDelivered
	if failed > 0 {
		status = newsletter.StatusPartial
	}

	rec := &newsletter.DeliveryRecord{
		Date:           date,
		DeliveredAt:    time.Now().In(newsletter.KST),
		RecipientCount: succeeded,
		Status:         status,
		EditionTitle:   editionTitle,
	}
	if err := g.ledger.MarkDelivered(ctx, rec); err != nil {
		// A lost write risks a duplicate send tomorrow's retry won't
		// catch, so this failure is loud even though the job succeeded.
		g.logger.Error("Failed to record delivery; duplicate sends possible on retry", "date", date, "error", err)
		return err
	}
	return nil
}
