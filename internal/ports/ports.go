package ports

import (
	"context"

	"NewsIndexer/internal/domain"
)

// Fetcher retrieves one listing or detail page.
type Fetcher interface {
	Fetch(ctx context.Context, target string) ([]byte, error)
}

// Extractor turns fetched pages into typed records.
type Extractor interface {
	ExtractList(page []byte, baseURL string) ([]domain.ArticleSummary, error)
	ExtractDetail(page []byte) (domain.Article, error)
}

// ListingSource knows how listing pages are addressed.
type ListingSource interface {
	PageURL(page int) (string, error)
	BaseURL() string
	Name() string
}

// IndexStore is the durable "have we seen this URL" index.
type IndexStore interface {
	Lookup(canonicalURL string) (domain.IndexEntry, bool)
	Upsert(entry domain.IndexEntry) (domain.IndexEntry, error)
	Reload() error
	SearchByTitle(substring string) []domain.IndexEntry
	SearchByDepartment(name string) []domain.IndexEntry
	All() []domain.IndexEntry
}

// ArticleStore persists one record per article id.
type ArticleStore interface {
	Put(article domain.Article) (string, error)
	Get(id string) (domain.Article, error)
	Exists(id string) bool
}

// AnalysisStore keeps the latest analysis record per article.
type AnalysisStore interface {
	Get(articleID string) (domain.AnalysisRecord, bool)
	Put(record domain.AnalysisRecord) error
}

// Scorer rates an article against the reader profile.
type Scorer interface {
	Score(ctx context.Context, article domain.Article, profile domain.UserProfile) (domain.Score, error)
}

// AnalysisSink receives freshly recorded analyses (e.g. a SQL mirror).
type AnalysisSink interface {
	SaveAnalysis(ctx context.Context, entry domain.IndexEntry, record domain.AnalysisRecord) error
}

// Notifier streams selected digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}
