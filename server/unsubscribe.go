package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/turtlesoup0/itnews-sender/recipients"
)

// handleUnsubscribe serves the one-click opt-out flow: GET shows a
// confirmation page, POST performs the removal. Both legs verify the
// token; possession of a valid token is the only authentication.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	// Rate limiting by IP to prevent token enumeration
	ip := clientIP(r)
	if !globalRateLimiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.unsubscribeConfirm(w, r)
	case http.MethodPost:
		s.unsubscribeApply(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) unsubscribeConfirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	email, ok := s.verifier.Verify(token, time.Now())
	if !ok {
		s.renderInvalidToken(w)
		return
	}

	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := templates.ExecuteTemplate(w, "confirm.tmpl", map[string]string{
		"Email": maskEmail(email),
		"Token": token,
	}); err != nil {
		s.logger.Error("Failed to render template", "template", "confirm.tmpl", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) unsubscribeApply(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	// The form echoes the token back; verify again rather than trusting
	// the earlier GET.
	email, ok := s.verifier.Verify(r.FormValue("token"), time.Now())
	if !ok {
		s.renderInvalidToken(w)
		return
	}

	if err := s.directory.Unsubscribe(r.Context(), email); err != nil {
		// An address already gone is the outcome the visitor wanted.
		if !errors.Is(err, recipients.ErrNotFound) {
			s.logger.Error("Failed to unsubscribe", "error", err)
			http.Error(w, "Failed to unsubscribe", http.StatusInternalServerError)
			return
		}
	}

	s.logger.Info("Recipient unsubscribed via token", "email", email)

	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := templates.ExecuteTemplate(w, "unsubscribed.tmpl", map[string]string{
		"Email": maskEmail(email),
	}); err != nil {
		s.logger.Error("Failed to render template", "template", "unsubscribed.tmpl", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// renderInvalidToken answers every bad token the same way, valid-shaped
// or not, so responses leak nothing about which tokens exist.
func (s *Server) renderInvalidToken(w http.ResponseWriter) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if err := templates.ExecuteTemplate(w, "invalid.tmpl", nil); err != nil {
		s.logger.Error("Failed to render template", "template", "invalid.tmpl", "error", err)
		http.Error(w, "Invalid or expired link", http.StatusNotFound)
	}
}

// maskEmail hides most of the local part for display on public pages.
func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 1 {
		return email
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}
