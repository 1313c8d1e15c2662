package email

import (
	"context"
	"log/slog"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// MockProvider logs mail instead of sending it, for local development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the message instead of sending it.
func (m *MockProvider) Send(_ context.Context, to string, msg *newsletter.Message) error {
	m.logger.Info("MOCK EMAIL",
		"to", to,
		"subject", msg.Subject,
		"body_length", len(msg.HTMLBody),
		"attachment", msg.AttachmentName)
	return nil
}
