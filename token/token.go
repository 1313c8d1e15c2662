// Package token implements self-contained unsubscribe tokens: an
// HMAC-SHA256 signature over the recipient's email and a monthly
// rotation period, verifiable without any server-side state.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// MinKeyLen is the minimum accepted signing key length in bytes.
const MinKeyLen = 32

var (
	// ErrKeyTooShort is returned by New for inadequate key material.
	ErrKeyTooShort = errors.New("token: signing key shorter than 32 bytes")
	// ErrEmptyEmail is returned by Generate for an empty subject.
	ErrEmptyEmail = errors.New("token: empty email")
)

// enc is the single canonical encoding for the whole token. Generation
// and verification MUST go through the same transformation; the system
// this replaces broke silently because the two sides layered their
// encodings differently.
var enc = base64.RawURLEncoding

// Codec generates and verifies unsubscribe tokens with a shared
// symmetric key. Tokens are valid for the current rotation period plus
// the previous one as a grace window, so a link mailed near the end of
// a month keeps working into the next.
type Codec struct {
	key []byte
}

// New creates a codec. The key must carry at least 32 bytes.
func New(key []byte) (*Codec, error) {
	if len(key) < MinKeyLen {
		return nil, ErrKeyTooShort
	}
	return &Codec{key: key}, nil
}

// Period returns the rotation bucket (YYYY-MM in KST) containing now.
func Period(now time.Time) string {
	return now.In(newsletter.KST).Format("2006-01")
}

// previousPeriod returns the rotation bucket immediately before now's.
func previousPeriod(now time.Time) string {
	t := now.In(newsletter.KST)
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, newsletter.KST)
	return first.AddDate(0, 0, -1).Format("2006-01")
}

// Generate produces a token for email, bound to now's rotation period.
// It is a pure function of its inputs; nothing is persisted.
func (c *Codec) Generate(email string, now time.Time) (string, error) {
	if email == "" {
		return "", ErrEmptyEmail
	}
	sig := c.sign(email, Period(now))
	payload := email + ":" + enc.EncodeToString(sig)
	return enc.EncodeToString([]byte(payload)), nil
}

// Verify decodes tok and checks its signature against the current
// rotation period, then the previous one. It fails closed: any decode
// error, malformed structure, or signature mismatch yields ok=false.
// The email is only returned when ok is true.
func (c *Codec) Verify(tok string, now time.Time) (email string, ok bool) {
	raw, err := enc.DecodeString(tok)
	if err != nil {
		return "", false
	}
	payload := string(raw)

	// The signature encoding contains no ':', so the last separator
	// splits email from signature even if the local part is odd.
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 || idx == len(payload)-1 {
		return "", false
	}
	subject := payload[:idx]
	sig, err := enc.DecodeString(payload[idx+1:])
	if err != nil {
		return "", false
	}

	for _, period := range []string{Period(now), previousPeriod(now)} {
		// hmac.Equal compares in constant time.
		if hmac.Equal(sig, c.sign(subject, period)) {
			return subject, true
		}
	}
	return "", false
}

func (c *Codec) sign(email, period string) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(email + ":" + period))
	return mac.Sum(nil)
}
