// Package email builds personalized edition mail and sends it through a
// pluggable provider.
package email

import (
	"context"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// Provider is a transport for fully built messages.
type Provider interface {
	// Send delivers msg to a single recipient.
	Send(ctx context.Context, to string, msg *newsletter.Message) error
}
