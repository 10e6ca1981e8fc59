package usecase

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"NewsIndexer/internal/infrastructure/fetcher"
	"NewsIndexer/internal/infrastructure/parser"
	"NewsIndexer/internal/infrastructure/storage"
	"NewsIndexer/internal/metrics"
)

// newsSite serves a paginated listing plus one detail page per article.
type newsSite struct {
	server *httptest.Server

	mu           sync.Mutex
	pages        map[int][]int
	brokenDetail map[int]bool
	brokenPage   map[int]bool

	detailHits  atomic.Int32
	listingHits sync.Map
}

func newNewsSite(t *testing.T, pages, perPage int) *newsSite {
	t.Helper()

	site := &newsSite{
		pages:        make(map[int][]int),
		brokenDetail: make(map[int]bool),
		brokenPage:   make(map[int]bool),
	}
	for p := 1; p <= pages; p++ {
		for i := 1; i <= perPage; i++ {
			site.pages[p] = append(site.pages[p], (p-1)*perPage+i)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/list.htm", site.serveListing)
	mux.HandleFunc("/info/", site.serveDetail)
	site.server = httptest.NewServer(mux)
	t.Cleanup(site.server.Close)
	return site
}

func (s *newsSite) listURL() string {
	return s.server.URL + "/list.htm"
}

func (s *newsSite) articleURL(n int) string {
	return fmt.Sprintf("%s/info/%d.htm", s.server.URL, n)
}

func (s *newsSite) setPage(p int, ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[p] = ids
}

func (s *newsSite) breakPage(p int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokenPage[p] = true
}

func (s *newsSite) setDetailBroken(id int, broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokenDetail[id] = broken
}

func (s *newsSite) hitsForPage(p int) int32 {
	v, ok := s.listingHits.Load(p)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

func (s *newsSite) serveListing(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("PAGENUM"); raw != "" {
		page, _ = strconv.Atoi(raw)
	}
	counter, _ := s.listingHits.LoadOrStore(page, new(atomic.Int32))
	counter.(*atomic.Int32).Add(1)

	s.mu.Lock()
	broken := s.brokenPage[page]
	ids := append([]int(nil), s.pages[page]...)
	s.mu.Unlock()

	if broken {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var b strings.Builder
	b.WriteString(`<html><body><ul class="news-list">`)
	for _, id := range ids {
		fmt.Fprintf(&b, `
		<li class="clearfix">
		  <div class="width02"><a href="#">通知</a></div>
		  <div class="width03"><a href="#">Dept %d</a></div>
		  <div class="width04"><a href="info/%d.htm" title="Article %d">Article %d</a></div>
		  <div class="width06">2025-03-01</div>
		</li>`, id%3, id, id, id)
	}
	b.WriteString(`</ul></body></html>`)
	_, _ = w.Write([]byte(b.String()))
}

func (s *newsSite) serveDetail(w http.ResponseWriter, r *http.Request) {
	s.detailHits.Add(1)

	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/info/"), ".htm"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	broken := s.brokenDetail[id]
	s.mu.Unlock()
	if broken {
		w.WriteHeader(http.StatusGone)
		return
	}

	fmt.Fprintf(w, `<html><body>
	  <h1 class="article-title">Article %d</h1>
	  <div class="article-sm">作者：Desk | 发布时间：2025-03-01 09:00</div>
	  <div id="vsb_content"><p>Body of article %d.</p></div>
	</body></html>`, id, id)
}

type crawlFixture struct {
	crawler  *Crawler
	index    *storage.IndexStore
	articles *storage.ArticleStore
	metrics  *metrics.Metrics
	dir      string
}

func newCrawlFixture(t *testing.T, site *newsSite, opts CrawlOptions) *crawlFixture {
	t.Helper()
	dir := t.TempDir()
	return openCrawlFixture(t, site, dir, opts)
}

func openCrawlFixture(t *testing.T, site *newsSite, dir string, opts CrawlOptions) *crawlFixture {
	t.Helper()

	index, err := storage.OpenIndexStore(filepath.Join(dir, "index.json"), nil)
	require.NoError(t, err)
	articles, err := storage.OpenArticleStore(filepath.Join(dir, "articles"), nil)
	require.NoError(t, err)
	listing, err := parser.NewPagedListing("campus", site.listURL(), "")
	require.NoError(t, err)

	m := metrics.New()
	crawler := NewCrawler(CrawlerDeps{
		Source:    listing,
		Fetcher:   fetcher.New(site.server.Client(), fetcher.Config{}, m, nil),
		Extractor: parser.NewNewsPageExtractor("campus"),
		Index:     index,
		Articles:  articles,
		Metrics:   m,
	}, opts)

	return &crawlFixture{crawler: crawler, index: index, articles: articles, metrics: m, dir: dir}
}
