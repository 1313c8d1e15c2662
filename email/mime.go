package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"strings"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// sanitizeEmailHeader removes newlines and control characters to prevent header injection.
// This is critical security: RFC 5322 headers are newline-delimited, so any newline in
// a header value allows an attacker to inject arbitrary headers or body content.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		// Allow only printable characters (space through ~) and valid UTF-8
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// encodeSubject RFC 2047-encodes a header value; Korean subjects are
// not ASCII-safe.
func encodeSubject(s string) string {
	return mime.BEncoding.Encode("UTF-8", s)
}

// buildMIME assembles the raw RFC 5322 message. With an attachment it
// produces multipart/mixed; without, a plain HTML message. An empty
// from omits the From header (the Gmail API fills it in from the
// authenticated account).
func buildMIME(from, to string, msg *newsletter.Message) ([]byte, error) {
	to = sanitizeEmailHeader(to)
	subject := encodeSubject(sanitizeEmailHeader(msg.Subject))

	var buf bytes.Buffer
	buf.WriteString("MIME-Version: 1.0\r\n")
	if from != "" {
		fmt.Fprintf(&buf, "From: %s\r\n", sanitizeEmailHeader(from))
	}
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)

	if msg.AttachmentPath == "" {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.HTMLBody)
		return buf.Bytes(), nil
	}

	data, err := os.ReadFile(msg.AttachmentPath)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}

	w := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	htmlPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := htmlPart.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}

	name := sanitizeEmailHeader(msg.AttachmentName)
	if name == "" {
		name = "attachment.pdf"
	}
	pdfPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/pdf"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
	})
	if err != nil {
		return nil, fmt.Errorf("create attachment part: %w", err)
	}
	if err := writeBase64Wrapped(pdfPart, data); err != nil {
		return nil, fmt.Errorf("write attachment part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), nil
}

// writeBase64Wrapped encodes data in base64 with the 76-column line
// breaks RFC 2045 requires.
func writeBase64Wrapped(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	const lineLen = 76
	for len(encoded) > 0 {
		n := lineLen
		if n > len(encoded) {
			n = len(encoded)
		}
		if _, err := w.Write([]byte(encoded[:n])); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}
