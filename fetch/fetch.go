// Package fetch retrieves the daily etnews PDF edition: log in, scrape
// the pdf_today listing for page metadata, and download the edition to
// a temp file. "Not published today" is a normal outcome, not an
// error; it is carried as a status so callers branch on it explicitly.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

const (
	loginURL   = "https://member.etnews.com/member/login_proc.html"
	listingURL = "https://pdf.etnews.com/pdf_today.html"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Status tags the outcome of a fetch.
type Status int

const (
	// StatusPublished means the edition exists and was downloaded.
	StatusPublished Status = iota
	// StatusNotPublished means no edition exists today (weekend or
	// holiday). Sending is suppressed without marking delivery.
	StatusNotPublished
)

// Result is the tagged outcome of Fetch. Edition is set only when
// Status is StatusPublished.
type Result struct {
	Status  Status
	Edition *newsletter.Edition
}

// HTTPStatusError indicates a non-OK response from the publisher.
type HTTPStatusError struct {
	URL  string
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.URL)
}

// IsForbidden checks whether err is a 403 response (session expired or
// credentials rejected); retrying won't help.
func IsForbidden(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusForbidden
}

// listing is a parsed pdf_today page.
type listing struct {
	Title  string
	PDFURL string
	Pages  []newsletter.Page
}

// Client fetches the daily edition. The http.Client must carry a
// cookie jar so the login session survives into the listing and
// download requests.
type Client struct {
	client   *http.Client
	logger   *slog.Logger
	userID   string
	password string
	tempDir  string
}

// New creates a fetch client.
func New(client *http.Client, userID, password, tempDir string, logger *slog.Logger) *Client {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Client{
		client:   client,
		logger:   logger,
		userID:   userID,
		password: password,
		tempDir:  tempDir,
	}
}

// Fetch logs in, scrapes today's listing, and downloads the edition
// PDF. The caller owns the returned temp file.
func (c *Client) Fetch(ctx context.Context) (*Result, error) {
	if err := c.login(ctx); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	lst, err := c.fetchListing(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	if lst == nil {
		c.logger.Info("No edition published today")
		return &Result{Status: StatusNotPublished}, nil
	}

	path, err := c.download(ctx, lst.PDFURL)
	if err != nil {
		return nil, fmt.Errorf("download edition: %w", err)
	}

	date := newsletter.Today(time.Now())
	title := lst.Title
	if title == "" {
		title = fmt.Sprintf("전자신문 [%s]", date)
	}

	c.logger.Info("Edition fetched",
		"title", title,
		"path", path,
		"pages", len(lst.Pages))

	return &Result{
		Status: StatusPublished,
		Edition: &newsletter.Edition{
			Title: title,
			Date:  date,
			Path:  path,
			Pages: lst.Pages,
		},
	}, nil
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{
		"user_id": {c.userID},
		"user_pw": {c.password},
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("User-Agent", userAgent)

			startTime := time.Now()
			resp, err := c.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("Login request failed, will retry",
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
				// Bad credentials won't get better with retries.
				return retry.Unrecoverable(&HTTPStatusError{URL: loginURL, Code: resp.StatusCode})
			}
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusFound {
				return &HTTPStatusError{URL: loginURL, Code: resp.StatusCode}
			}

			c.logger.Info("Publisher login completed",
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying login after error", "attempt", n, "error", err)
		}),
	)
}

// fetchListing returns the parsed listing, or nil when no edition is
// published today.
func (c *Client) fetchListing(ctx context.Context) (*listing, error) {
	var lst *listing

	err := retry.Do(
		func() error {
			c.logger.Info("HTTP request starting",
				"method", "GET",
				"url", listingURL,
				"purpose", "fetch_edition_listing")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("User-Agent", userAgent)
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
			req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8")

			startTime := time.Now()
			resp, err := c.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("HTTP request failed, will retry",
					"url", listingURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Info("HTTP request completed",
				"url", listingURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusForbidden {
				return retry.Unrecoverable(&HTTPStatusError{URL: listingURL, Code: resp.StatusCode})
			}
			if resp.StatusCode != http.StatusOK {
				return &HTTPStatusError{URL: listingURL, Code: resp.StatusCode}
			}

			parsed, err := parseListing(resp.Body)
			if err != nil {
				c.logger.Error("Failed to parse listing HTML", "error", err)
				return retry.Unrecoverable(err)
			}
			lst = parsed
			return nil
		},
		retry.Attempts(10),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying listing fetch after error", "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsForbidden(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}
	return lst, nil
}

// parseListing extracts the edition title, per-page metadata, and the
// PDF URL. Returns nil when the page shows the "no paper today"
// notice or lists no pages at all.
func parseListing(body io.Reader) (*listing, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	// Holiday/weekend notice means nothing to deliver.
	if doc.Find(".no_paper, .holiday_notice").Length() > 0 {
		return nil, nil
	}

	var pages []newsletter.Page
	doc.Find("ul.pdf_page_list li").Each(func(i int, s *goquery.Selection) {
		numText := strings.TrimSpace(s.Find(".page_num").First().Text())
		num, convErr := strconv.Atoi(strings.TrimSuffix(numText, "면"))
		if convErr != nil {
			num = i + 1
		}
		pages = append(pages, newsletter.Page{
			Number: num,
			Title:  strings.TrimSpace(s.Find(".page_tit").First().Text()),
		})
	})
	if len(pages) == 0 {
		return nil, nil
	}

	pdfURL, ok := doc.Find("a.btn_pdf_down").First().Attr("href")
	if !ok || pdfURL == "" {
		return nil, errors.New("listing has pages but no download link")
	}
	if strings.HasPrefix(pdfURL, "/") {
		pdfURL = "https://pdf.etnews.com" + pdfURL
	}

	title := strings.TrimSpace(doc.Find("h2.paper_title").First().Text())

	return &listing{
		Title:  title,
		PDFURL: pdfURL,
		Pages:  pages,
	}, nil
}

// download fetches the PDF to a temp file and returns its path.
func (c *Client) download(ctx context.Context, pdfURL string) (string, error) {
	var path string

	err := retry.Do(
		func() error {
			c.logger.Info("HTTP request starting",
				"method", "GET",
				"url", pdfURL,
				"purpose", "download_edition_pdf")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("User-Agent", userAgent)

			startTime := time.Now()
			resp, err := c.client.Do(req)
			if err != nil {
				c.logger.Warn("PDF download failed, will retry", "url", pdfURL, "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				return &HTTPStatusError{URL: pdfURL, Code: resp.StatusCode}
			}

			f, err := os.CreateTemp(c.tempDir, "etnews-*.pdf")
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create temp file: %w", err))
			}

			written, err := io.Copy(f, resp.Body)
			if closeErr := f.Close(); closeErr != nil {
				c.logger.Warn("Failed to close temp file", "error", closeErr)
			}
			if err != nil {
				if removeErr := os.Remove(f.Name()); removeErr != nil {
					c.logger.Warn("Failed to remove partial download", "error", removeErr)
				}
				return fmt.Errorf("write pdf: %w", err)
			}
			if written == 0 {
				if removeErr := os.Remove(f.Name()); removeErr != nil {
					c.logger.Warn("Failed to remove empty download", "error", removeErr)
				}
				return errors.New("downloaded pdf is empty")
			}

			path = f.Name()
			c.logger.Info("PDF downloaded",
				"url", pdfURL,
				"path", path,
				"bytes", written,
				"duration_ms", time.Since(startTime).Milliseconds())
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying PDF download after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("after retries: %w", err)
	}
	return path, nil
}
