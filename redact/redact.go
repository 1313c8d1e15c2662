// Package redact strips full-page advertisements from an edition PDF
// before it is mailed. Page titles from the publisher's listing drive
// the decision; the PDF itself is never inspected for content.
package redact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// adKeywords mark a page as advertisement when its listed title
// contains one. Matching is a plain substring check; titles come from
// the publisher verbatim.
var adKeywords = []string{
	"광고",
	"AD",
	"Advertisement",
	"전면광고",
	"advertorial",
}

// isAdPage reports whether a page title marks an advertisement page.
func isAdPage(title string) bool {
	for _, kw := range adKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

// Plan splits the edition's pages into kept and dropped page numbers.
func Plan(pages []newsletter.Page) (keep, drop []int) {
	for _, p := range pages {
		if isAdPage(p.Title) {
			drop = append(drop, p.Number)
		} else {
			keep = append(keep, p.Number)
		}
	}
	return keep, drop
}

// Redactor rewrites edition PDFs with ad pages removed.
type Redactor struct {
	logger  *slog.Logger
	tempDir string
}

// New creates a redactor writing output files under tempDir.
func New(tempDir string, logger *slog.Logger) *Redactor {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Redactor{logger: logger, tempDir: tempDir}
}

// Redact removes ad pages from the edition PDF and returns the path of
// the cleaned file. When no pages are flagged the original path is
// returned untouched. It fails closed: without page metadata, or when
// every page would be dropped, nothing is sent rather than sending the
// ads through.
func (r *Redactor) Redact(edition *newsletter.Edition) (string, error) {
	if len(edition.Pages) == 0 {
		return "", fmt.Errorf("edition %q has no page metadata; refusing to mail unfiltered pdf", edition.Date)
	}

	keep, drop := Plan(edition.Pages)
	if len(keep) == 0 {
		return "", fmt.Errorf("every page of edition %q is flagged as advertisement", edition.Date)
	}
	if len(drop) == 0 {
		r.logger.Info("No ad pages in edition", "date", edition.Date, "pages", len(edition.Pages))
		return edition.Path, nil
	}

	out := filepath.Join(r.tempDir, fmt.Sprintf("etnews-%s-clean.pdf", edition.Date))

	selection := make([]string, len(drop))
	for i, n := range drop {
		selection[i] = strconv.Itoa(n)
	}
	if err := api.RemovePagesFile(edition.Path, out, selection, nil); err != nil {
		return "", fmt.Errorf("remove ad pages: %w", err)
	}

	count, err := api.PageCountFile(out)
	if err != nil {
		return "", fmt.Errorf("verify cleaned pdf: %w", err)
	}
	if count != len(keep) {
		return "", fmt.Errorf("cleaned pdf has %d pages, expected %d", count, len(keep))
	}

	r.logger.Info("Ad pages removed",
		"date", edition.Date,
		"dropped", len(drop),
		"kept", len(keep),
		"path", out)
	return out, nil
}
