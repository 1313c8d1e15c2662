package email

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

// TokenSource issues unsubscribe tokens for recipient addresses.
type TokenSource interface {
	Generate(email string, now time.Time) (string, error)
}

// Builder renders per-recipient messages. Every outgoing mail carries a
// personalized unsubscribe link; the token is minted fresh at build
// time so it is always in the current validity period.
type Builder struct {
	templates *template.Template
	tokens    TokenSource
	logger    *slog.Logger
	baseURL   string
}

// NewBuilder creates a message builder. baseURL is the public address
// of the unsubscribe endpoint, without a trailing slash.
func NewBuilder(tokens TokenSource, baseURL string, logger *slog.Logger) (*Builder, error) {
	tmpl, err := template.ParseFS(templateFS, "tmpl/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Builder{
		templates: tmpl,
		tokens:    tokens,
		logger:    logger,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (b *Builder) unsubscribeURL(email string) (string, error) {
	tok, err := b.tokens.Generate(email, time.Now())
	if err != nil {
		return "", fmt.Errorf("generate unsubscribe token: %w", err)
	}
	return b.baseURL + "/unsubscribe?token=" + tok, nil
}

type editionData struct {
	Name           string
	Title          string
	Date           string
	Pages          []newsletter.Page
	UnsubscribeURL string
}

// Build renders the daily edition message for one recipient. The
// attachment is the cleaned PDF at attachmentPath, shared across the
// batch; the body and unsubscribe link are per-recipient.
func (b *Builder) Build(r newsletter.Recipient, edition *newsletter.Edition, attachmentPath string) (*newsletter.Message, error) {
	unsub, err := b.unsubscribeURL(r.Email)
	if err != nil {
		return nil, err
	}

	name := r.Name
	if name == "" {
		name = "구독자"
	}

	var body strings.Builder
	if err := b.templates.ExecuteTemplate(&body, "edition.tmpl", editionData{
		Name:           name,
		Title:          edition.Title,
		Date:           edition.Date,
		Pages:          edition.Pages,
		UnsubscribeURL: unsub,
	}); err != nil {
		return nil, fmt.Errorf("render edition body: %w", err)
	}

	return &newsletter.Message{
		Subject:        fmt.Sprintf("전자신문 [%s]", edition.Date),
		HTMLBody:       body.String(),
		AttachmentPath: attachmentPath,
		AttachmentName: fmt.Sprintf("etnews-%s.pdf", edition.Date),
	}, nil
}

type trendData struct {
	Name           string
	Date           string
	Reports        []newsletter.TrendReport
	UnsubscribeURL string
}

// BuildTrendDigest renders the weekly trend supplement for one
// recipient. No attachment; the digest links to the reports.
func (b *Builder) BuildTrendDigest(r newsletter.Recipient, date string, reports []newsletter.TrendReport) (*newsletter.Message, error) {
	unsub, err := b.unsubscribeURL(r.Email)
	if err != nil {
		return nil, err
	}

	name := r.Name
	if name == "" {
		name = "구독자"
	}

	var body strings.Builder
	if err := b.templates.ExecuteTemplate(&body, "trend.tmpl", trendData{
		Name:           name,
		Date:           date,
		Reports:        reports,
		UnsubscribeURL: unsub,
	}); err != nil {
		return nil, fmt.Errorf("render trend digest body: %w", err)
	}

	return &newsletter.Message{
		Subject:  fmt.Sprintf("주간기술동향 다이제스트 [%s]", date),
		HTMLBody: body.String(),
	}, nil
}
