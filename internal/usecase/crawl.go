package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/metrics"
	"NewsIndexer/internal/ports"
)

const defaultDetailConcurrency = 4

// CrawlerDeps wires the driven adapters used by the crawler.
type CrawlerDeps struct {
	Source    ports.ListingSource
	Fetcher   ports.Fetcher
	Extractor ports.Extractor
	Index     ports.IndexStore
	Articles  ports.ArticleStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// CrawlOptions tunes one crawler.
type CrawlOptions struct {
	// DetailConcurrency bounds parallel detail fetches within a page.
	DetailConcurrency int
	// StopOnDuplicatePage ends the run at the first page made only of known URLs.
	StopOnDuplicatePage bool
}

// Crawler walks the listing pages and indexes what it finds. Known URLs are
// never fetched twice; summary-only entries are upgraded in full mode.
type Crawler struct {
	source    ports.ListingSource
	fetcher   ports.Fetcher
	extractor ports.Extractor
	index     ports.IndexStore
	articles  ports.ArticleStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	opts      CrawlOptions
}

// NewCrawler constructs the crawl use case.
func NewCrawler(deps CrawlerDeps, opts CrawlOptions) *Crawler {
	if opts.DetailConcurrency <= 0 {
		opts.DetailConcurrency = defaultDetailConcurrency
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Crawler{
		source:    deps.Source,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		index:     deps.Index,
		articles:  deps.Articles,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       now,
		opts:      opts,
	}
}

type itemAction int

const (
	actionDuplicate itemAction = iota
	actionSummary
	actionFetch
	actionUpgrade
)

type crawlItem struct {
	summary domain.ArticleSummary
	action  itemAction
	article domain.Article
	err     error
}

// Run crawls pages 1..pages in order. Per-item failures are counted and
// skipped; the run only fails when every listing page failed or ctx ends.
func (c *Crawler) Run(ctx context.Context, pages int, mode domain.CrawlMode) (domain.CrawlReport, error) {
	var report domain.CrawlReport
	if pages < 1 {
		return report, fmt.Errorf("page count must be >= 1, got %d", pages)
	}
	if !mode.Valid() {
		return report, fmt.Errorf("unknown crawl mode %q", mode)
	}

	c.info("crawl started", "source", c.source.Name(), "pages", pages, "mode", mode)

	var lastErr error
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		pageReport, items, err := c.crawlPage(ctx, page, mode)
		report.Add(pageReport)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			lastErr = err
			report.PagesFailed++
			c.metrics.IncCrawlPage("failed")
			c.warn("listing page failed", "page", page, "error", err)
			continue
		}
		c.metrics.IncCrawlPage("ok")

		if c.opts.StopOnDuplicatePage && items > 0 && pageReport.SkippedDuplicate == items {
			c.info("page holds only known articles, stopping early", "page", page)
			break
		}
	}

	c.info("crawl finished",
		"fetched", report.Fetched,
		"upgraded", report.Upgraded,
		"skipped_duplicate", report.SkippedDuplicate,
		"failed", report.Failed,
		"pages_failed", report.PagesFailed,
	)

	if report.PagesFailed == pages {
		return report, fmt.Errorf("all %d listing page(s) failed: %w", pages, lastErr)
	}
	return report, nil
}

// crawlPage handles one listing page and returns its report and item count.
func (c *Crawler) crawlPage(ctx context.Context, page int, mode domain.CrawlMode) (domain.CrawlReport, int, error) {
	var report domain.CrawlReport

	pageURL, err := c.source.PageURL(page)
	if err != nil {
		return report, 0, err
	}
	body, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return report, 0, fmt.Errorf("fetch listing page %d: %w", page, err)
	}
	summaries, err := c.extractor.ExtractList(body, c.source.BaseURL())
	if err != nil {
		return report, 0, fmt.Errorf("extract listing page %d: %w", page, err)
	}

	items := c.plan(summaries, mode)
	c.debug("listing page parsed", "page", page, "items", len(items))

	if err := c.fetchDetails(ctx, items); err != nil {
		return report, len(items), err
	}

	for i := range items {
		if err := ctx.Err(); err != nil {
			return report, len(items), err
		}
		c.commit(&items[i], &report)
	}
	return report, len(items), nil
}

// plan decides per listing row what has to happen, before any detail fetch.
func (c *Crawler) plan(summaries []domain.ArticleSummary, mode domain.CrawlMode) []crawlItem {
	items := make([]crawlItem, 0, len(summaries))
	seen := make(map[string]bool, len(summaries))

	for _, s := range summaries {
		item := crawlItem{summary: s, action: actionDuplicate}
		entry, known := c.index.Lookup(s.CanonicalURL)

		switch {
		case seen[s.CanonicalURL]:
		case !known && mode == domain.ModeSummary:
			item.action = actionSummary
		case !known:
			item.action = actionFetch
		case mode == domain.ModeFull && !entry.IsFull():
			item.action = actionUpgrade
		}
		seen[s.CanonicalURL] = true
		items = append(items, item)
	}
	return items
}

// fetchDetails retrieves detail pages for new and upgraded rows with bounded
// concurrency. Item failures are stored on the item.
func (c *Crawler) fetchDetails(ctx context.Context, items []crawlItem) error {
	g := new(errgroup.Group)
	g.SetLimit(c.opts.DetailConcurrency)

	for i := range items {
		item := &items[i]
		if item.action != actionFetch && item.action != actionUpgrade {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			item.article, item.err = c.fetchArticle(ctx, item.summary)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (c *Crawler) fetchArticle(ctx context.Context, s domain.ArticleSummary) (domain.Article, error) {
	c.metrics.IncDetailFetch()
	body, err := c.fetcher.Fetch(ctx, s.CanonicalURL)
	if err != nil {
		return domain.Article{}, err
	}
	article, err := c.extractor.ExtractDetail(body)
	if err != nil {
		return domain.Article{}, err
	}

	article.ID = domain.ArticleID(s.CanonicalURL)
	article.CanonicalURL = s.CanonicalURL
	article.FetchTime = c.now()
	if article.Title == "" {
		article.Title = s.Title
	}
	if article.PublishTime == "" {
		article.PublishTime = s.PublishTime
	}
	article.Category = s.Category
	article.Department = s.Department
	if article.Source == "" {
		article.Source = c.source.Name()
	}
	return article, nil
}

// commit records one item. Commits happen in listing order, one at a time.
func (c *Crawler) commit(item *crawlItem, report *domain.CrawlReport) {
	s := item.summary

	switch item.action {
	case actionDuplicate:
		report.SkippedDuplicate++
		c.metrics.IncCrawlItem("duplicate")
		return

	case actionSummary:
		if err := c.upsert(domain.EntryFromSummary(s, c.now())); err != nil {
			c.fail(report, s, err)
			return
		}
		report.Fetched++
		c.metrics.IncCrawlItem("fetched")
		return
	}

	if item.err != nil {
		c.fail(report, s, item.err)
		return
	}

	article, err := c.storeArticle(item.article)
	if err != nil {
		c.fail(report, s, err)
		return
	}
	if err := c.upsert(domain.EntryFromArticle(s, article)); err != nil {
		c.fail(report, s, err)
		return
	}

	if item.action == actionUpgrade {
		report.Upgraded++
		c.metrics.IncCrawlItem("upgraded")
		return
	}
	report.Fetched++
	c.metrics.IncCrawlItem("fetched")
}

// storeArticle writes a freshly fetched article. When a record already
// exists the stored copy wins, so the index keeps its original fetch time.
func (c *Crawler) storeArticle(article domain.Article) (domain.Article, error) {
	id := article.ID
	if id == "" {
		id = domain.ArticleID(article.CanonicalURL)
	}
	if c.articles.Exists(id) {
		stored, err := c.articles.Get(id)
		if err == nil {
			return stored, nil
		}
		c.warn("stored article unreadable, keeping fetched copy", "article_id", id, "error", err)
	}

	id, err := c.articles.Put(article)
	if err != nil {
		return domain.Article{}, err
	}
	article.ID = id
	return article, nil
}

// upsert writes entry, reloading and retrying once if another writer held
// the index.
func (c *Crawler) upsert(entry domain.IndexEntry) error {
	_, err := c.index.Upsert(entry)
	if !errors.Is(err, domain.ErrIndexConflict) {
		return err
	}

	c.metrics.IncIndexConflict()
	c.warn("index changed on disk, reloading", "url", entry.CanonicalURL)
	if reloadErr := c.index.Reload(); reloadErr != nil {
		return fmt.Errorf("reload index: %w", reloadErr)
	}
	if _, err := c.index.Upsert(entry); err != nil {
		return fmt.Errorf("index write abandoned: %w", err)
	}
	return nil
}

func (c *Crawler) fail(report *domain.CrawlReport, s domain.ArticleSummary, err error) {
	report.Failed++
	c.metrics.IncCrawlItem("failed")
	c.warn("article skipped", "url", s.CanonicalURL, "error", err)
}

func (c *Crawler) info(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Crawler) warn(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Crawler) debug(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
