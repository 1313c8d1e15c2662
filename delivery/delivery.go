// Package delivery runs the daily send: one edition, one pass over the
// recipient list, one outcome recorded. A recipient failure never stops
// the rest of the batch.
package delivery

import (
	"context"
	"log/slog"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// Transport delivers a built message to one recipient.
type Transport interface {
	Send(ctx context.Context, to string, msg *newsletter.Message) error
}

// Marks tracks which recipients already received a given day's edition,
// so a same-day retry after a partial batch skips the ones done.
type Marks interface {
	RecipientLastDelivery(ctx context.Context, email string) (string, error)
	MarkRecipientDelivered(ctx context.Context, email, date string) error
}

// BuildFunc renders the message for one recipient.
type BuildFunc func(r newsletter.Recipient) (*newsletter.Message, error)

// Failure is one recipient the batch could not reach.
type Failure struct {
	Email string
	Err   error
}

// Result is the accounting of one batch pass.
type Result struct {
	Succeeded        []string
	AlreadyDelivered []string
	Failures         []Failure
}

// Outcome classifies a batch result.
type Outcome string

const (
	// OutcomeDelivered means every attempted recipient succeeded.
	OutcomeDelivered Outcome = "delivered"
	// OutcomePartial means some succeeded and some failed.
	OutcomePartial Outcome = "partial"
	// OutcomeNone means every attempted recipient failed.
	OutcomeNone Outcome = "none"
	// OutcomeEmpty means nothing was attempted, either because the
	// list was empty or everyone already had today's edition.
	OutcomeEmpty Outcome = "empty"
)

// Outcome classifies the result. Recipients skipped as already
// delivered do not count as attempts.
func (r *Result) Outcome() Outcome {
	attempted := len(r.Succeeded) + len(r.Failures)
	switch {
	case attempted == 0:
		return OutcomeEmpty
	case len(r.Failures) == 0:
		return OutcomeDelivered
	case len(r.Succeeded) == 0:
		return OutcomeNone
	default:
		return OutcomePartial
	}
}

// Orchestrator walks the recipient list and sends.
type Orchestrator struct {
	transport Transport
	marks     Marks
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(transport Transport, marks Marks, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		transport: transport,
		marks:     marks,
		logger:    logger,
	}
}

// Run builds and sends one message per recipient. With useMarks set it
// consults the per-recipient marks to skip anyone who already received
// date's edition, and records a mark after each successful send; the
// rehearsal path and supplement batches pass false and leave the marks
// alone. Errors are per-recipient: one bad address or transport hiccup
// is recorded and the loop moves on.
func (o *Orchestrator) Run(ctx context.Context, recipients []newsletter.Recipient, date string, build BuildFunc, useMarks bool) *Result {
	result := &Result{}

	for _, r := range recipients {
		if useMarks {
			last, err := o.marks.RecipientLastDelivery(ctx, r.Email)
			if err != nil {
				// Unknown mark state must not block delivery; the
				// worst case is a duplicate for this recipient.
				o.logger.Warn("Recipient mark read failed, sending anyway", "email", r.Email, "error", err)
			} else if last == date {
				o.logger.Info("Recipient already has today's edition, skipping", "email", r.Email, "date", date)
				result.AlreadyDelivered = append(result.AlreadyDelivered, r.Email)
				continue
			}
		}

		msg, err := build(r)
		if err != nil {
			o.logger.Warn("Message build failed", "email", r.Email, "error", err)
			result.Failures = append(result.Failures, Failure{Email: r.Email, Err: err})
			continue
		}

		if err := o.transport.Send(ctx, r.Email, msg); err != nil {
			o.logger.Warn("Send failed, continuing with remaining recipients", "email", r.Email, "error", err)
			result.Failures = append(result.Failures, Failure{Email: r.Email, Err: err})
			continue
		}

		result.Succeeded = append(result.Succeeded, r.Email)

		if useMarks {
			if err := o.marks.MarkRecipientDelivered(ctx, r.Email, date); err != nil {
				// The send went out; a lost mark only risks a duplicate
				// on a same-day retry.
				o.logger.Warn("Failed to record recipient mark", "email", r.Email, "date", date, "error", err)
			}
		}
	}

	o.logger.Info("Batch completed",
		"date", date,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failures),
		"already_delivered", len(result.AlreadyDelivered),
		"outcome", string(result.Outcome()))
	return result
}
