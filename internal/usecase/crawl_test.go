package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsIndexer/internal/domain"
)

func TestCrawlFullModeTwoPages(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 2, 10)
	fx := newCrawlFixture(t, site, CrawlOptions{})

	report, err := fx.crawler.Run(context.Background(), 2, domain.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, domain.CrawlReport{Fetched: 20}, report)
	assert.Equal(t, int32(20), site.detailHits.Load())
	assert.Equal(t, 20, fx.index.Len())

	for _, entry := range fx.index.All() {
		require.True(t, entry.IsFull(), entry.CanonicalURL)
		assert.True(t, fx.articles.Exists(entry.ArticleID))
	}

	article, err := fx.articles.Get(domain.ArticleID(site.articleURL(7)))
	require.NoError(t, err)
	assert.Equal(t, "Article 7", article.Title)
	assert.Equal(t, "Body of article 7.", article.Content)
	assert.Equal(t, "Dept 1", article.Department)
	assert.Equal(t, site.articleURL(7), article.CanonicalURL)

	again, err := fx.crawler.Run(context.Background(), 2, domain.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, domain.CrawlReport{SkippedDuplicate: 20}, again)
	assert.Equal(t, int32(20), site.detailHits.Load(), "known urls must not be fetched again")
	assert.Equal(t, 20.0, testutil.ToFloat64(fx.metrics.DetailFetches))
}

func TestCrawlKeepsListingOrder(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 2, 3)
	fx := newCrawlFixture(t, site, CrawlOptions{DetailConcurrency: 3})

	_, err := fx.crawler.Run(context.Background(), 2, domain.ModeFull)
	require.NoError(t, err)

	var got []string
	for _, e := range fx.index.All() {
		got = append(got, e.CanonicalURL)
	}
	want := []string{
		site.articleURL(1), site.articleURL(2), site.articleURL(3),
		site.articleURL(4), site.articleURL(5), site.articleURL(6),
	}
	assert.Equal(t, want, got)
}

func TestCrawlSummaryThenUpgrade(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 2, 10)
	fx := newCrawlFixture(t, site, CrawlOptions{})
	ctx := context.Background()

	report, err := fx.crawler.Run(ctx, 2, domain.ModeSummary)
	require.NoError(t, err)
	assert.Equal(t, 20, report.Fetched)
	assert.Zero(t, site.detailHits.Load())
	for _, e := range fx.index.All() {
		assert.False(t, e.IsFull())
	}

	summaryAgain, err := fx.crawler.Run(ctx, 2, domain.ModeSummary)
	require.NoError(t, err)
	assert.Equal(t, 20, summaryAgain.SkippedDuplicate)

	upgraded, err := fx.crawler.Run(ctx, 2, domain.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, domain.CrawlReport{Upgraded: 20}, upgraded)
	assert.Equal(t, int32(20), site.detailHits.Load())
	assert.Equal(t, 20, fx.index.Len())
	for _, e := range fx.index.All() {
		assert.True(t, e.IsFull())
	}

	final, err := fx.crawler.Run(ctx, 2, domain.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 20, final.SkippedDuplicate)
	assert.Equal(t, int32(20), site.detailHits.Load())
}

func TestCrawlUpgradeKeepsStoredArticleFetchTime(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 1, 3)
	fx := newCrawlFixture(t, site, CrawlOptions{})
	ctx := context.Background()

	storedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	url := site.articleURL(1)
	_, err := fx.articles.Put(domain.Article{
		ID:           domain.ArticleID(url),
		CanonicalURL: url,
		Title:        "Article 1",
		Content:      "Body kept from an earlier run.",
		FetchTime:    storedAt,
	})
	require.NoError(t, err)

	_, err = fx.crawler.Run(ctx, 1, domain.ModeSummary)
	require.NoError(t, err)

	report, err := fx.crawler.Run(ctx, 1, domain.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Upgraded)

	entry, ok := fx.index.Lookup(url)
	require.True(t, ok)
	assert.True(t, entry.IsFull())
	assert.True(t, storedAt.Equal(entry.FetchTime), "got %s", entry.FetchTime)

	other, ok := fx.index.Lookup(site.articleURL(2))
	require.True(t, ok)
	assert.True(t, other.FetchTime.After(storedAt))
}

func TestCrawlItemFailureDoesNotAbortPage(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 1, 10)
	site.setDetailBroken(3, true)
	fx := newCrawlFixture(t, site, CrawlOptions{})

	report, err := fx.crawler.Run(context.Background(), 1, domain.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 9, report.Fetched)
	assert.Equal(t, 1, report.Failed)

	_, known := fx.index.Lookup(site.articleURL(3))
	assert.False(t, known)

	site.setDetailBroken(3, false)

	retry, err := fx.crawler.Run(context.Background(), 1, domain.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Fetched)
	assert.Equal(t, 9, retry.SkippedDuplicate)
	assert.Equal(t, int32(11), site.detailHits.Load())
}

func TestCrawlListingPageFailure(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 2, 5)
	site.breakPage(2)
	fx := newCrawlFixture(t, site, CrawlOptions{})

	report, err := fx.crawler.Run(context.Background(), 2, domain.ModeSummary)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Fetched)
	assert.Equal(t, 1, report.PagesFailed)

	site.breakPage(1)
	_, err = fx.crawler.Run(context.Background(), 2, domain.ModeSummary)
	require.Error(t, err)
	assert.True(t, domain.IsFetchError(err))
}

func TestCrawlDuplicateWithinListing(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 1, 3)
	site.setPage(1, 1, 2, 1, 3)
	fx := newCrawlFixture(t, site, CrawlOptions{})

	report, err := fx.crawler.Run(context.Background(), 1, domain.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 1, report.SkippedDuplicate)
	assert.Equal(t, int32(3), site.detailHits.Load())
	assert.Equal(t, 3, fx.index.Len())
}

func TestCrawlStopsOnDuplicatePage(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 3, 4)
	fx := newCrawlFixture(t, site, CrawlOptions{StopOnDuplicatePage: true})
	ctx := context.Background()

	_, err := fx.crawler.Run(ctx, 1, domain.ModeSummary)
	require.NoError(t, err)

	report, err := fx.crawler.Run(ctx, 3, domain.ModeSummary)
	require.NoError(t, err)
	assert.Equal(t, 4, report.SkippedDuplicate)
	assert.Zero(t, report.Fetched)
	assert.Zero(t, site.hitsForPage(2))
}

func TestCrawlSurvivesRestart(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 1, 5)
	fx := newCrawlFixture(t, site, CrawlOptions{})
	_, err := fx.crawler.Run(context.Background(), 1, domain.ModeFull)
	require.NoError(t, err)

	restarted := openCrawlFixture(t, site, fx.dir, CrawlOptions{})
	report, err := restarted.crawler.Run(context.Background(), 1, domain.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 5, report.SkippedDuplicate)
	assert.Equal(t, int32(5), site.detailHits.Load())
}

func TestCrawlRejectsBadArguments(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 1, 1)
	fx := newCrawlFixture(t, site, CrawlOptions{})

	_, err := fx.crawler.Run(context.Background(), 0, domain.ModeFull)
	require.Error(t, err)
	_, err = fx.crawler.Run(context.Background(), 1, domain.CrawlMode("deep"))
	require.Error(t, err)
}

func TestCrawlStopsWhenCancelled(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 2, 2)
	fx := newCrawlFixture(t, site, CrawlOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fx.crawler.Run(ctx, 2, domain.ModeFull)
	require.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, fx.index.Len())
}

// conflictingIndex reports one conflict on the first write.
type conflictingIndex struct {
	*memoryIndex
	conflicts int
	reloads   int
}

func (c *conflictingIndex) Upsert(e domain.IndexEntry) (domain.IndexEntry, error) {
	if c.conflicts > 0 {
		c.conflicts--
		return domain.IndexEntry{}, domain.ErrIndexConflict
	}
	return c.memoryIndex.Upsert(e)
}

func (c *conflictingIndex) Reload() error {
	c.reloads++
	return nil
}

func TestCrawlRetriesIndexConflictOnce(t *testing.T) {
	t.Parallel()

	site := newNewsSite(t, 1, 2)
	fx := newCrawlFixture(t, site, CrawlOptions{})
	idx := &conflictingIndex{memoryIndex: newMemoryIndex(), conflicts: 1}
	fx.crawler.index = idx

	report, err := fx.crawler.Run(context.Background(), 1, domain.ModeSummary)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, idx.reloads)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.IndexConflicts))

	idx.conflicts = 2
	site.setPage(1, 1, 2, 99)
	report, err = fx.crawler.Run(context.Background(), 1, domain.ModeSummary)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed, "write is abandoned after one retry")
	assert.Equal(t, 2, report.SkippedDuplicate)
}
