package email

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

type staticTokens struct{ token string }

func (s staticTokens) Generate(_ string, _ time.Time) (string, error) {
	return s.token, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(staticTokens{token: "tok123"}, "https://news.example.com/", testLogger())
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	return b
}

func TestBuildEditionMessage(t *testing.T) {
	b := testBuilder(t)

	edition := &newsletter.Edition{
		Title: "전자신문 2026년 1월 27일",
		Date:  "2026-01-27",
		Pages: []newsletter.Page{
			{Number: 1, Title: "IT 업계 대규모 투자 발표"},
			{Number: 2, Title: "반도체 수출 동향"},
		},
	}
	recipient := newsletter.Recipient{Email: "user@example.com", Name: "홍길동"}

	msg, err := b.Build(recipient, edition, "/tmp/clean.pdf")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if msg.Subject != "전자신문 [2026-01-27]" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.AttachmentPath != "/tmp/clean.pdf" {
		t.Errorf("AttachmentPath = %q", msg.AttachmentPath)
	}
	if msg.AttachmentName != "etnews-2026-01-27.pdf" {
		t.Errorf("AttachmentName = %q", msg.AttachmentName)
	}
	if !strings.Contains(msg.HTMLBody, "홍길동") {
		t.Error("body missing recipient name")
	}
	if !strings.Contains(msg.HTMLBody, "https://news.example.com/unsubscribe?token=tok123") {
		t.Error("body missing unsubscribe link")
	}
	if !strings.Contains(msg.HTMLBody, "반도체 수출 동향") {
		t.Error("body missing page titles")
	}
}

func TestBuildFallbackName(t *testing.T) {
	b := testBuilder(t)

	msg, err := b.Build(newsletter.Recipient{Email: "user@example.com"}, &newsletter.Edition{Date: "2026-01-27"}, "/tmp/clean.pdf")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(msg.HTMLBody, "구독자") {
		t.Error("body should fall back to generic greeting when name is empty")
	}
}

func TestBuildTrendDigest(t *testing.T) {
	b := testBuilder(t)

	reports := []newsletter.TrendReport{
		{Title: "주간기술동향 2200호", Date: "2026-01-21", URL: "https://www.itfind.or.kr/view.do?id=1"},
	}
	msg, err := b.BuildTrendDigest(newsletter.Recipient{Email: "user@example.com", Name: "홍길동"}, "2026-01-21", reports)
	if err != nil {
		t.Fatalf("BuildTrendDigest() error = %v", err)
	}

	if msg.Subject != "주간기술동향 다이제스트 [2026-01-21]" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.AttachmentPath != "" {
		t.Errorf("AttachmentPath = %q, want none", msg.AttachmentPath)
	}
	if !strings.Contains(msg.HTMLBody, "주간기술동향 2200호") {
		t.Error("body missing report title")
	}
	if !strings.Contains(msg.HTMLBody, "unsubscribe?token=tok123") {
		t.Error("body missing unsubscribe link")
	}
}
