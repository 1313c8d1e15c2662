// Package recipients manages the mailing list: who receives the daily
// edition and who has opted out.
package recipients

import (
	"errors"
	"strings"
)

// Recipient statuses.
const (
	StatusActive       = "active"
	StatusUnsubscribed = "unsubscribed"
)

// ErrNotFound is returned when an email is not on the list.
var ErrNotFound = errors.New("recipient not found")

// normalize canonicalizes an address for lookup.
func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
