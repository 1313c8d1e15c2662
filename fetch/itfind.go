package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

const itfindURL = "https://www.itfind.or.kr/publication/regular/weeklytrend/weekly/list.do"

// TrendClient scrapes the ITFIND weekly trend board. It needs no login
// session, so it carries its own client rather than sharing the
// publisher's.
type TrendClient struct {
	client *http.Client
	logger *slog.Logger
}

// NewTrendClient creates an ITFIND scraper.
func NewTrendClient(client *http.Client, logger *slog.Logger) *TrendClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TrendClient{client: client, logger: logger}
}

// LatestReports fetches the most recent weekly trend entries, newest
// first, capped at limit. An empty board is not an error.
func (c *TrendClient) LatestReports(ctx context.Context, limit int) ([]newsletter.TrendReport, error) {
	var reports []newsletter.TrendReport

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, itfindURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("User-Agent", userAgent)
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

			startTime := time.Now()
			resp, err := c.client.Do(req)
			if err != nil {
				c.logger.Warn("Trend board request failed, will retry", "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				return &HTTPStatusError{URL: itfindURL, Code: resp.StatusCode}
			}

			parsed, err := parseTrendBoard(resp.Body, limit)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			reports = parsed

			c.logger.Info("Trend board fetched",
				"reports", len(reports),
				"duration_ms", time.Since(startTime).Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying trend board fetch after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}
	return reports, nil
}

func parseTrendBoard(body io.Reader, limit int) ([]newsletter.TrendReport, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	var reports []newsletter.TrendReport
	doc.Find("table.tbl_basic tbody tr").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(reports) >= limit {
			return false
		}

		link := s.Find("td.subject a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}

		href, _ := link.Attr("href")
		if strings.HasPrefix(href, "/") {
			href = "https://www.itfind.or.kr" + href
		}

		reports = append(reports, newsletter.TrendReport{
			Title: title,
			Date:  strings.TrimSpace(s.Find("td.date").First().Text()),
			URL:   href,
		})
		return true
	})
	return reports, nil
}
