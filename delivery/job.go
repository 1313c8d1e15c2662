package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/turtlesoup0/itnews-sender/fetch"
	"github.com/turtlesoup0/itnews-sender/guard"
	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// Fetcher retrieves today's edition.
type Fetcher interface {
	Fetch(ctx context.Context) (*fetch.Result, error)
}

// Redactor strips ad pages and returns the path of the cleaned PDF.
type Redactor interface {
	Redact(edition *newsletter.Edition) (string, error)
}

// Directory lists the mailing list.
type Directory interface {
	Active(ctx context.Context) ([]newsletter.Recipient, error)
}

// Builder renders per-recipient messages.
type Builder interface {
	Build(r newsletter.Recipient, edition *newsletter.Edition, attachmentPath string) (*newsletter.Message, error)
	BuildTrendDigest(r newsletter.Recipient, date string, reports []newsletter.TrendReport) (*newsletter.Message, error)
}

// FailureLedger tracks fetch failures per day.
type FailureLedger interface {
	RecordFailure(ctx context.Context, date, reason string) (int, error)
	ResetFailures(ctx context.Context, date string) error
}

// TrendSource lists recent weekly trend reports.
type TrendSource interface {
	LatestReports(ctx context.Context, limit int) ([]newsletter.TrendReport, error)
}

// Report summarizes one job invocation, returned to the trigger caller.
type Report struct {
	RunID            string `json:"run_id"`
	Date             string `json:"date"`
	Mode             string `json:"mode"`
	Skipped          bool   `json:"skipped"`
	Reason           string `json:"reason,omitempty"`
	EditionTitle     string `json:"edition_title,omitempty"`
	Outcome          string `json:"outcome,omitempty"`
	Succeeded        int    `json:"succeeded"`
	Failed           int    `json:"failed"`
	AlreadyDelivered int    `json:"already_delivered"`
	TrendDigestSent  int    `json:"trend_digest_sent"`
}

// JobConfig wires a Job. Trends is optional; without it the Wednesday
// supplement is simply not sent.
type JobConfig struct {
	Guard      *guard.Guard
	Ledger     FailureLedger
	Marks      Marks
	Directory  Directory
	Fetcher    Fetcher
	Redactor   Redactor
	Builder    Builder
	Transport  Transport
	Trends     TrendSource
	TrendLimit int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Job is one scheduled delivery run, end to end.
type Job struct {
	cfg          JobConfig
	orchestrator *Orchestrator
	now          func() time.Time
}

// NewJob creates a job from its wiring.
func NewJob(cfg JobConfig) *Job {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.TrendLimit == 0 {
		cfg.TrendLimit = 5
	}
	return &Job{
		cfg:          cfg,
		orchestrator: NewOrchestrator(cfg.Transport, cfg.Marks, cfg.Logger),
		now:          time.Now,
	}
}

// Execute runs the pipeline: list recipients, consult the guard, fetch,
// redact, send, record. In rehearsal mode everything runs except ledger
// writes and recipient marks.
func (j *Job) Execute(ctx context.Context, mode guard.Mode) (*Report, error) {
	runID := uuid.NewString()
	logger := j.cfg.Logger.With("run_id", runID)

	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	date := newsletter.Today(j.now())
	report := &Report{RunID: runID, Date: date, Mode: string(mode)}

	logger.Info("Delivery job starting", "date", date, "mode", mode)

	recipients, err := j.cfg.Directory.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}

	if skip, reason := j.cfg.Guard.ShouldSkip(ctx, mode, date, len(recipients)); skip {
		report.Skipped = true
		report.Reason = reason
		return report, nil
	}

	res, err := j.cfg.Fetcher.Fetch(ctx)
	if err != nil {
		j.noteFetchFailure(ctx, mode, date, logger, err)
		return nil, fmt.Errorf("fetch edition: %w", err)
	}
	if res.Status == fetch.StatusNotPublished {
		logger.Info("No edition today, nothing to deliver", "date", date)
		report.Skipped = true
		report.Reason = "no edition published today"
		return report, nil
	}

	edition := res.Edition
	report.EditionTitle = edition.Title
	defer j.cleanup(logger, edition.Path)

	attachmentPath, err := j.cfg.Redactor.Redact(edition)
	if err != nil {
		j.noteFetchFailure(ctx, mode, date, logger, err)
		return nil, fmt.Errorf("redact edition: %w", err)
	}
	if attachmentPath != edition.Path {
		defer j.cleanup(logger, attachmentPath)
	}

	// The edition is in hand, so today's failure streak is over.
	if mode == guard.ModeLive {
		if err := j.cfg.Ledger.ResetFailures(ctx, date); err != nil {
			logger.Warn("Failed to reset failure count", "date", date, "error", err)
		}
	}

	build := func(r newsletter.Recipient) (*newsletter.Message, error) {
		return j.cfg.Builder.Build(r, edition, attachmentPath)
	}
	result := j.orchestrator.Run(ctx, recipients, date, build, mode == guard.ModeLive)

	report.Outcome = string(result.Outcome())
	report.Succeeded = len(result.Succeeded)
	report.Failed = len(result.Failures)
	report.AlreadyDelivered = len(result.AlreadyDelivered)

	if err := j.cfg.Guard.RecordOutcome(ctx, mode, date, report.Succeeded, report.Failed, edition.Title); err != nil {
		return report, fmt.Errorf("record outcome: %w", err)
	}

	j.sendTrendDigest(ctx, mode, date, recipients, logger, report)

	logger.Info("Delivery job finished",
		"date", date,
		"outcome", report.Outcome,
		"succeeded", report.Succeeded,
		"failed", report.Failed)
	return report, nil
}

// noteFetchFailure counts a failed fetch against the daily budget, in
// live mode only.
func (j *Job) noteFetchFailure(ctx context.Context, mode guard.Mode, date string, logger *slog.Logger, cause error) {
	if mode != guard.ModeLive {
		return
	}
	count, err := j.cfg.Ledger.RecordFailure(ctx, date, cause.Error())
	if err != nil {
		logger.Warn("Failed to record fetch failure", "date", date, "error", err)
		return
	}
	logger.Warn("Fetch failure recorded", "date", date, "count", count, "cause", cause)
}

// sendTrendDigest mails the weekly trend supplement on Wednesdays. It
// is best effort and never touches the ledger: a failed digest must not
// affect the edition's delivery record.
func (j *Job) sendTrendDigest(ctx context.Context, mode guard.Mode, date string, recipients []newsletter.Recipient, logger *slog.Logger, report *Report) {
	if j.cfg.Trends == nil || j.now().In(newsletter.KST).Weekday() != time.Wednesday {
		return
	}
	if mode != guard.ModeLive {
		logger.Info("Rehearsal mode, skipping trend digest")
		return
	}

	reports, err := j.cfg.Trends.LatestReports(ctx, j.cfg.TrendLimit)
	if err != nil {
		logger.Warn("Trend board fetch failed, skipping digest", "error", err)
		return
	}
	if len(reports) == 0 {
		return
	}

	build := func(r newsletter.Recipient) (*newsletter.Message, error) {
		return j.cfg.Builder.BuildTrendDigest(r, date, reports)
	}
	result := j.orchestrator.Run(ctx, recipients, date, build, false)
	report.TrendDigestSent = len(result.Succeeded)
}

func (j *Job) cleanup(logger *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove temp file", "path", path, "error", err)
	}
}
