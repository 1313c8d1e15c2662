// Package ledger persists delivery history: which days have been
// delivered, which recipients have been served today, and how many
// times today's fetch has failed. It is the only correctness mechanism
// shared between overlapping invocations, so every record lives in a
// durable external store, never in process memory.
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrNotFound indicates the requested record does not exist. It is not
// an infrastructure failure; absence is a normal answer.
var ErrNotFound = errors.New("ledger: record not found")

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// FailureRecord counts fetch failures for one day. After enough
// failures the guard stops re-attempting until the next day.
type FailureRecord struct {
	Date      string    `json:"date"` // YYYY-MM-DD in KST
	Count     int       `json:"failure_count"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// maxFailureReason bounds stored error text so a pathological error
// message cannot bloat the record.
const maxFailureReason = 500

func truncateReason(reason string) string {
	if len(reason) > maxFailureReason {
		return reason[:maxFailureReason]
	}
	return reason
}

func deliveryKey(date string) string {
	return "delivery-" + date + ".json"
}

func failureKey(date string) string {
	return "failures-" + date + ".json"
}

// markName derives a stable, unguessable object name for a recipient
// mark. Emails never appear in object names; HMAC with a secret salt
// keeps the mapping one-way while still allowing O(1) lookup.
func markName(salt []byte, email string) string {
	h := hmac.New(sha256.New, salt)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "mark-" + hex.EncodeToString(h.Sum(nil)) + ".json"
}
