// Package newsletter contains the core domain types for the daily edition delivery service.
package newsletter

import "time"

// KST is the fixed timezone for all calendar keys. The edition is a Korean
// daily; using UTC would shift the day boundary by nine hours and let a
// late-evening retry land on the "next" day.
var KST = time.FixedZone("KST", 9*60*60)

// Today returns the canonical YYYY-MM-DD key for now, in KST.
func Today(now time.Time) string {
	return now.In(KST).Format("2006-01-02")
}

// DeliveryStatus classifies a day's delivery record.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusDelivered DeliveryStatus = "delivered"
	StatusPartial   DeliveryStatus = "partial"
)

// DeliveryRecord is one day's delivery state. At most one delivered
// record exists per date; a partial record means some recipients are
// still owed mail and must not block a same-day retry.
type DeliveryRecord struct {
	Date           string         `json:"delivery_date"`           // YYYY-MM-DD in KST
	DeliveredAt    time.Time      `json:"delivered_at"`            // Completion timestamp
	RecipientCount int            `json:"recipient_count"`         // Recipients successfully delivered
	Status         DeliveryStatus `json:"status"`                  // delivered or partial
	EditionTitle   string         `json:"edition_title,omitempty"` // e.g. "전자신문 [2026-01-27]"
}

// RecipientMark records the last date a specific recipient was sent
// mail, so a partially-failed batch can resume without double-sending.
type RecipientMark struct {
	Email            string `json:"email"`
	LastDeliveryDate string `json:"last_delivery_date"` // YYYY-MM-DD in KST
}

// Recipient is one mailing-list member.
type Recipient struct {
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Status       string    `json:"status"` // active or unsubscribed
	SubscribedAt time.Time `json:"subscribed_at"`
}

// Page is one page of the source PDF as listed on the publisher's site.
type Page struct {
	Number int    `json:"number"`
	Title  string `json:"title"` // Section title, used for ad detection
}

// Edition is a fetched document ready for processing and delivery.
type Edition struct {
	Title string `json:"title"`
	Date  string `json:"date"` // YYYY-MM-DD in KST
	Path  string `json:"path"` // Local path of the downloaded PDF
	Pages []Page `json:"pages,omitempty"`
}

// TrendReport is one entry from the weekly ICT trend board, mailed as
// a digest supplement alongside the Wednesday edition.
type TrendReport struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	URL   string `json:"url"`
}

// Message is a fully built, personalized email ready for a transport.
type Message struct {
	Subject        string
	HTMLBody       string
	AttachmentPath string
	AttachmentName string
}
