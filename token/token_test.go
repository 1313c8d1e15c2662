package token

import (
	"strings"
	"testing"
	"time"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func mustCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func kst(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 10, 0, 0, 0, newsletter.KST)
}

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := New([]byte("too-short")); err == nil {
		t.Error("New() with short key should fail")
	}
	if _, err := New(nil); err == nil {
		t.Error("New() with nil key should fail")
	}
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	c := mustCodec(t)

	emails := []string{
		"user@example.com",
		"turtlesoup0@gmail.com",
		"first.last+tag@sub.example.co.kr",
	}

	for _, email := range emails {
		t.Run(email, func(t *testing.T) {
			now := kst(2026, time.January, 15)
			tok, err := c.Generate(email, now)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}

			got, ok := c.Verify(tok, now)
			if !ok {
				t.Fatal("Verify() ok = false, want true")
			}
			if got != email {
				t.Errorf("Verify() email = %q, want %q", got, email)
			}
		})
	}
}

func TestGenerateEmptyEmail(t *testing.T) {
	c := mustCodec(t)
	if _, err := c.Generate("", kst(2026, time.January, 15)); err == nil {
		t.Error("Generate() with empty email should fail")
	}
}

func TestVerifyGraceWindow(t *testing.T) {
	c := mustCodec(t)

	tok, err := c.Generate("user@example.com", kst(2026, time.January, 15))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		name   string
		at     time.Time
		wantOK bool
	}{
		{"same period", kst(2026, time.January, 30), true},
		{"next period (grace)", kst(2026, time.February, 3), true},
		{"two periods later", kst(2026, time.March, 3), false},
		{"far future", kst(2027, time.January, 15), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, ok := c.Verify(tok, tt.at)
			if ok != tt.wantOK {
				t.Errorf("Verify() ok = %v, want %v", ok, tt.wantOK)
			}
			if !tt.wantOK && email != "" {
				t.Errorf("Verify() leaked email %q on rejection", email)
			}
		})
	}
}

func TestVerifyYearBoundaryGrace(t *testing.T) {
	c := mustCodec(t)

	tok, err := c.Generate("user@example.com", kst(2025, time.December, 28))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, ok := c.Verify(tok, kst(2026, time.January, 2)); !ok {
		t.Error("Verify() across year boundary within grace window should succeed")
	}
}

func TestVerifyRejectsMutatedToken(t *testing.T) {
	c := mustCodec(t)

	now := kst(2026, time.January, 15)
	tok, err := c.Generate("user@example.com", now)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// Flip one character at every position; no mutation may verify.
	for i := range tok {
		mutated := []byte(tok)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		if string(mutated) == tok {
			continue
		}
		if _, ok := c.Verify(string(mutated), now); ok {
			t.Fatalf("Verify() accepted token mutated at position %d", i)
		}
	}
}

func TestVerifyMalformedInput(t *testing.T) {
	c := mustCodec(t)
	now := kst(2026, time.January, 15)

	tests := []struct {
		name string
		tok  string
	}{
		{"empty", ""},
		{"not base64", "%%%%"},
		{"no separator", enc.EncodeToString([]byte("user@example.com"))},
		{"empty email", enc.EncodeToString([]byte(":c2ln"))},
		{"empty signature", enc.EncodeToString([]byte("user@example.com:"))},
		{"signature not base64", enc.EncodeToString([]byte("user@example.com:%%%"))},
		{"random text", "definitely-not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, ok := c.Verify(tt.tok, now)
			if ok {
				t.Error("Verify() ok = true, want false")
			}
			if email != "" {
				t.Errorf("Verify() email = %q, want empty", email)
			}
		})
	}
}

func TestVerifyWrongKey(t *testing.T) {
	c := mustCodec(t)
	other, err := New([]byte(strings.Repeat("x", 32)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	now := kst(2026, time.January, 15)
	tok, err := c.Generate("user@example.com", now)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, ok := other.Verify(tok, now); ok {
		t.Error("Verify() with a different key should fail")
	}
}

func TestPeriodUsesKST(t *testing.T) {
	// 2026-01-31 23:00 UTC is already 2026-02-01 08:00 in KST.
	utcEve := time.Date(2026, time.January, 31, 23, 0, 0, 0, time.UTC)
	if got := Period(utcEve); got != "2026-02" {
		t.Errorf("Period() = %q, want 2026-02", got)
	}
	if got := previousPeriod(utcEve); got != "2026-01" {
		t.Errorf("previousPeriod() = %q, want 2026-01", got)
	}
}
