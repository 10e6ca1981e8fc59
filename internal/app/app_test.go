package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsIndexer/internal/config"
	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/usecase"
)

const perPage = 3

func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/list.htm", func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if raw := r.URL.Query().Get("PAGENUM"); raw != "" {
			page, _ = strconv.Atoi(raw)
		}
		var b strings.Builder
		b.WriteString(`<html><body><ul class="news-list">`)
		for i := 1; i <= perPage; i++ {
			id := (page-1)*perPage + i
			fmt.Fprintf(&b, `
			<li class="clearfix">
			  <div class="width02"><a href="#">通知</a></div>
			  <div class="width03"><a href="#">Dept %d</a></div>
			  <div class="width04"><a href="info/%d.htm" title="Article %d">Article %d</a></div>
			  <div class="width06">2025-03-01</div>
			</li>`, id%3, id, id, id)
		}
		b.WriteString(`</ul></body></html>`)
		_, _ = io.WriteString(w, b.String())
	})
	mux.HandleFunc("/info/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/info/"), ".htm")
		fmt.Fprintf(w, `<html><body>
		  <h1 class="article-title">Article %s</h1>
		  <div class="article-sm">作者：Desk | 发布时间：2025-03-01 09:00</div>
		  <div id="vsb_content"><p>Body of article %s.</p></div>
		</body></html>`, id, id)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func loadTestConfig(t *testing.T, listURL, dataDir string, jobsEnabled bool) config.Config {
	t.Helper()

	raw := fmt.Sprintf(`
source:
  name: campus
  listUrl: %s/list.htm
  pageParam: PAGENUM
fetch:
  requestsPerSecond: 0
  retry:
    maxRetries: 0
crawl:
  pages: 2
  mode: full
storage:
  dataDir: %s
scheduler:
  timezone: UTC
  stopTimeout: 2s
  jobs:
    crawl:
      enabled: %[3]t
      cron: "0 */6 * * *"
    analysis:
      enabled: %[3]t
      cron: "30 */6 * * *"
    cleanup:
      enabled: %[3]t
      cron: "0 3 * * *"
    health:
      enabled: %[3]t
      interval: 5m
analysis:
  provider: none
`, listURL, dataDir, jobsEnabled)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) *Application {
	t.Helper()
	app, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestApplicationCrawlAndQueries(t *testing.T) {
	t.Parallel()

	site := newTestSite(t)
	app := newTestApp(t, loadTestConfig(t, site.URL, t.TempDir(), false))

	report, err := app.Crawl(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, 6, report.Fetched)
	assert.Equal(t, 0, report.Failed)

	all, err := app.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "Article 1", all[0].Title)

	entry, err := app.LookupByURL("info/2.htm")
	require.NoError(t, err)
	assert.Equal(t, site.URL+"/info/2.htm", entry.CanonicalURL)
	require.NotEmpty(t, entry.ArticleID)

	article, err := app.Article(entry.ArticleID)
	require.NoError(t, err)
	assert.Contains(t, article.Content, "Body of article 2")

	_, err = app.LookupByURL(site.URL + "/info/99.htm")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	byTitle, err := app.Search("ARTICLE 2", "")
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	assert.Equal(t, "Article 2", byTitle[0].Title)

	byDept, err := app.Search("", "dept 1")
	require.NoError(t, err)
	assert.Len(t, byDept, 2)

	both, err := app.Search("article 4", "Dept 1")
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "Article 4", both[0].Title)

	none, err := app.Search("article 4", "Dept 2")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = app.Search(" ", "")
	assert.Error(t, err)
}

func TestApplicationAnalyzeWithoutScorer(t *testing.T) {
	t.Parallel()

	site := newTestSite(t)
	app := newTestApp(t, loadTestConfig(t, site.URL, t.TempDir(), false))

	_, err := app.Analyze(context.Background(), 0)
	assert.ErrorIs(t, err, usecase.ErrScorerDisabled)

	stats, err := app.AnalysisStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
}

func TestApplicationRestartKeepsIndex(t *testing.T) {
	t.Parallel()

	site := newTestSite(t)
	dataDir := t.TempDir()

	first := newTestApp(t, loadTestConfig(t, site.URL, dataDir, false))
	_, err := first.Crawl(context.Background(), 1, domain.ModeFull)
	require.NoError(t, err)

	second := newTestApp(t, loadTestConfig(t, site.URL, dataDir, false))
	report, err := second.Crawl(context.Background(), 1, domain.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, perPage, report.SkippedDuplicate)
}

func TestApplicationServePersistsJobState(t *testing.T) {
	t.Parallel()

	site := newTestSite(t)
	dataDir := t.TempDir()
	cfg := loadTestConfig(t, site.URL, dataDir, true)

	app := newTestApp(t, cfg)
	runs, err := app.JobStatuses()
	require.NoError(t, err)
	assert.Empty(t, runs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dataDir, "jobs.json"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	live, err := app.JobStatuses()
	require.NoError(t, err)
	require.Len(t, live, 4)

	restarted := newTestApp(t, cfg)
	persisted, err := restarted.JobStatuses()
	require.NoError(t, err)
	require.Len(t, persisted, 4)
	assert.Equal(t, "analysis", persisted[0].JobID)

	crawl, err := restarted.JobStatus("crawl")
	require.NoError(t, err)
	assert.Equal(t, domain.JobIdle, crawl.State)
	assert.False(t, crawl.NextRunTime.IsZero())

	_, err = restarted.JobStatus("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
