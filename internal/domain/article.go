package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ArticleSummary is one row of the news listing page.
type ArticleSummary struct {
	CanonicalURL  string
	Title         string
	Category      string
	Department    string
	PublishTime   string
	HasAttachment bool
}

// Article is the full body of a news item, owned by the article store.
type Article struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Author       string    `json:"author,omitempty"`
	Category     string    `json:"category"`
	Department   string    `json:"department"`
	PublishTime  string    `json:"publish_time"`
	Source       string    `json:"source"`
	CanonicalURL string    `json:"url"`
	FetchTime    time.Time `json:"fetch_time"`
}

// IndexEntry is the index record for one canonical URL.
// An empty ArticleID marks a summary-only entry.
type IndexEntry struct {
	CanonicalURL  string    `json:"url"`
	ArticleID     string    `json:"article_id,omitempty"`
	Title         string    `json:"title"`
	Category      string    `json:"category"`
	Department    string    `json:"department"`
	PublishTime   string    `json:"publish_time"`
	HasAttachment bool      `json:"has_attachment"`
	FetchTime     time.Time `json:"fetch_time"`
}

// IsFull reports whether the entry references a stored article body.
func (e IndexEntry) IsFull() bool {
	return e.ArticleID != ""
}

// EntryFromSummary builds a summary-only index entry.
func EntryFromSummary(s ArticleSummary, fetchedAt time.Time) IndexEntry {
	return IndexEntry{
		CanonicalURL:  s.CanonicalURL,
		Title:         s.Title,
		Category:      s.Category,
		Department:    s.Department,
		PublishTime:   s.PublishTime,
		HasAttachment: s.HasAttachment,
		FetchTime:     fetchedAt,
	}
}

// EntryFromArticle builds a full index entry pointing at the stored article.
func EntryFromArticle(s ArticleSummary, a Article) IndexEntry {
	entry := EntryFromSummary(s, a.FetchTime)
	entry.ArticleID = a.ID
	if a.Title != "" {
		entry.Title = a.Title
	}
	if a.PublishTime != "" {
		entry.PublishTime = a.PublishTime
	}
	return entry
}

// ArticleID derives the stable article identifier from its canonical URL.
func ArticleID(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:16])
}

// CrawlMode selects how deep a crawl goes for new URLs.
type CrawlMode string

const (
	ModeSummary CrawlMode = "summary"
	ModeFull    CrawlMode = "full"
)

// Valid reports whether the mode is known.
func (m CrawlMode) Valid() bool {
	return m == ModeSummary || m == ModeFull
}

// CrawlReport counts the outcome of one crawl run.
type CrawlReport struct {
	Fetched          int `json:"fetched"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Failed           int `json:"failed"`
	Upgraded         int `json:"upgraded"`
	PagesFailed      int `json:"pages_failed"`
}

// Add merges another report into r.
func (r *CrawlReport) Add(other CrawlReport) {
	r.Fetched += other.Fetched
	r.SkippedDuplicate += other.SkippedDuplicate
	r.Failed += other.Failed
	r.Upgraded += other.Upgraded
	r.PagesFailed += other.PagesFailed
}
