package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"NewsIndexer/internal/config"
	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/infrastructure/fetcher"
	"NewsIndexer/internal/infrastructure/llm"
	"NewsIndexer/internal/infrastructure/ml"
	"NewsIndexer/internal/infrastructure/parser"
	"NewsIndexer/internal/infrastructure/scheduler"
	"NewsIndexer/internal/infrastructure/storage"
	"NewsIndexer/internal/infrastructure/telegram"
	"NewsIndexer/internal/logging"
	"NewsIndexer/internal/metrics"
	"NewsIndexer/internal/ports"
	"NewsIndexer/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	listing  *parser.PagedListing
	index    *storage.IndexStore
	articles *storage.ArticleStore
	analyses *storage.AnalysisStore
	jobState *storage.JobStateStore
	db       *sql.DB

	crawler  *usecase.Crawler
	analyzer *usecase.Analyzer
	jobs     *usecase.Jobs
	runner   *scheduler.Runner
}

// New opens the stores and wires every component. Store failures are
// returned; optional collaborators that fail to start are logged and left out.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	m := metrics.New()

	index, err := storage.OpenIndexStore(cfg.Storage.IndexPath(), baseLogger.With("component", "index"))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	articles, err := storage.OpenArticleStore(cfg.Storage.ArticlesDir(), baseLogger.With("component", "articles"))
	if err != nil {
		return nil, fmt.Errorf("open article store: %w", err)
	}
	analyses, err := storage.OpenAnalysisStore(cfg.Storage.AnalysisDir(), baseLogger.With("component", "analysis-store"))
	if err != nil {
		return nil, fmt.Errorf("open analysis store: %w", err)
	}
	if n, err := index.Reconcile(articles.Exists); err != nil {
		return nil, fmt.Errorf("reconcile index: %w", err)
	} else if n > 0 {
		baseLogger.Warn("index entries downgraded to summary-only", "count", n)
	}

	listing, err := parser.NewPagedListing(cfg.Source.Name, cfg.Source.ListURL, cfg.Source.PageParam)
	if err != nil {
		return nil, err
	}

	a := &Application{
		cfg:      cfg,
		logger:   baseLogger,
		metrics:  m,
		listing:  listing,
		index:    index,
		articles: articles,
		analyses: analyses,
		jobState: storage.NewJobStateStore(cfg.Storage.JobsPath()),
	}

	a.crawler = usecase.NewCrawler(usecase.CrawlerDeps{
		Source: listing,
		Fetcher: fetcher.New(nil, fetcher.Config{
			Timeout:           cfg.Fetch.Timeout,
			Retry:             cfg.Fetch.Retry,
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
			UserAgent:         cfg.Fetch.UserAgent,
		}, m, baseLogger.With("component", "fetcher")),
		Extractor: parser.NewNewsPageExtractor(cfg.Source.Name),
		Index:     index,
		Articles:  articles,
		Metrics:   m,
		Logger:    baseLogger.With("component", "crawler"),
	}, usecase.CrawlOptions{
		DetailConcurrency:   cfg.Crawl.DetailConcurrency,
		StopOnDuplicatePage: cfg.Crawl.StopOnDuplicatePage,
	})

	scorer := buildScorer(cfg, baseLogger)

	var sink ports.AnalysisSink
	if cfg.Database.DSN != "" {
		if repo, err := a.openMirror(ctx); err != nil {
			baseLogger.Warn("postgres mirror disabled", "error", err)
		} else {
			sink = repo
		}
	}

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.Enabled() {
		notifier = telegram.NewNotifier(tg.APIBase, tg.BotToken, tg.ChatID)
	}

	a.analyzer = usecase.NewAnalyzer(usecase.AnalyzerDeps{
		Index:          index,
		Articles:       articles,
		Analyses:       analyses,
		Scorer:         scorer,
		Sink:           sink,
		Notifier:       notifier,
		Profile:        cfg.Profile,
		DigestMinScore: cfg.Analysis.DigestMinScore,
		Metrics:        m,
		Logger:         baseLogger.With("component", "analyzer"),
	})

	a.jobs = usecase.NewJobs(
		a.crawler,
		a.analyzer,
		usecase.NewCleaner(analyses, cfg.Analysis.RetentionDays, baseLogger.With("component", "cleanup")),
		usecase.NewHealthCheck([]string{cfg.Storage.DataDir, articles.Dir(), analyses.Dir()}, scorer != nil, baseLogger.With("component", "health")),
		usecase.JobSettings{
			CrawlPages:    cfg.Crawl.Pages,
			CrawlMode:     cfg.Crawl.Mode,
			AnalysisBatch: cfg.Analysis.BatchSize,
		},
	)

	return a, nil
}

func buildScorer(cfg config.Config, log *slog.Logger) ports.Scorer {
	switch cfg.Analysis.Provider {
	case config.ProviderWorkflow:
		return ml.NewClient(ml.Config{
			Endpoint: cfg.ML.Endpoint,
			APIKey:   cfg.ML.APIKey,
			User:     cfg.ML.User,
			Timeout:  cfg.ML.Timeout,
			Retry:    cfg.ML.Retry,
		}, log.With("component", "workflow"))
	case config.ProviderChatGPT:
		return llm.NewChatGPTClient(cfg.ChatGPT)
	default:
		return nil
	}
}

func (a *Application) openMirror(ctx context.Context) (*storage.PostgresRepository, error) {
	db, err := storage.OpenPostgres(ctx, a.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	repo := storage.NewPostgresRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.db = db
	return repo, nil
}

// Close releases the database connection, if any.
func (a *Application) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Crawl runs one crawl. Zero pages or an empty mode use the configured values.
func (a *Application) Crawl(ctx context.Context, pages int, mode domain.CrawlMode) (domain.CrawlReport, error) {
	if pages <= 0 {
		pages = a.cfg.Crawl.Pages
	}
	if mode == "" {
		mode = a.cfg.Crawl.Mode
	}
	return a.crawler.Run(ctx, pages, mode)
}

// LookupByURL finds the index entry for a link, relative links resolving
// against the listing page.
func (a *Application) LookupByURL(rawURL string) (domain.IndexEntry, error) {
	base, err := url.Parse(a.listing.BaseURL())
	if err != nil {
		return domain.IndexEntry{}, err
	}
	canonical, err := parser.Canonicalize(base, rawURL)
	if err != nil {
		return domain.IndexEntry{}, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	entry, ok := a.index.Lookup(canonical)
	if !ok {
		return domain.IndexEntry{}, fmt.Errorf("%s: %w", canonical, domain.ErrNotFound)
	}
	return entry, nil
}

// Article loads a stored article body.
func (a *Application) Article(id string) (domain.Article, error) {
	return a.articles.Get(id)
}

// Search filters by title substring, department, or both.
func (a *Application) Search(title, department string) ([]domain.IndexEntry, error) {
	title = strings.TrimSpace(title)
	department = strings.TrimSpace(department)

	switch {
	case title == "" && department == "":
		return nil, fmt.Errorf("search needs a title or a department")
	case department == "":
		return a.index.SearchByTitle(title), nil
	case title == "":
		return a.index.SearchByDepartment(department), nil
	}

	out := make([]domain.IndexEntry, 0)
	for _, e := range a.index.SearchByTitle(title) {
		if strings.EqualFold(e.Department, department) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAll returns every index entry in insertion order.
func (a *Application) ListAll() ([]domain.IndexEntry, error) {
	return a.index.All(), nil
}

// Analyze scores one batch. Zero uses the configured batch size.
func (a *Application) Analyze(ctx context.Context, batch int) (domain.AnalysisReport, error) {
	if batch <= 0 {
		batch = a.cfg.Analysis.BatchSize
	}
	return a.analyzer.Run(ctx, batch)
}

// AnalyzeArticle scores one article now.
func (a *Application) AnalyzeArticle(ctx context.Context, id string) (domain.AnalysisRecord, error) {
	return a.analyzer.AnalyzeArticle(ctx, id)
}

// AnalysisStats summarises stored analyses.
func (a *Application) AnalysisStats() (domain.AnalysisStats, error) {
	return a.analyses.Stats(), nil
}

// JobStatus returns one job's state, live while serving and from the
// persisted state otherwise.
func (a *Application) JobStatus(id string) (domain.JobRun, error) {
	runs, err := a.JobStatuses()
	if err != nil {
		return domain.JobRun{}, err
	}
	for _, run := range runs {
		if run.JobID == id {
			return run, nil
		}
	}
	return domain.JobRun{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
}

// JobStatuses lists every known job.
func (a *Application) JobStatuses() ([]domain.JobRun, error) {
	if a.runner != nil {
		return a.runner.Statuses(), nil
	}
	persisted, err := a.jobState.Load()
	if err != nil {
		return nil, err
	}
	runs := make([]domain.JobRun, 0, len(persisted))
	for _, run := range persisted {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].JobID < runs[j].JobID })
	return runs, nil
}

// Serve runs the scheduler (and the metrics listener when configured) until
// ctx is cancelled, then stops gracefully within the configured timeout.
func (a *Application) Serve(ctx context.Context) error {
	runner := scheduler.NewRunner(a.logger.With("component", "scheduler"),
		scheduler.WithStateStore(a.jobState),
		scheduler.WithMetrics(a.metrics),
	)
	if err := registerJobs(runner, a.cfg, a.jobs); err != nil {
		return err
	}
	a.runner = runner

	var server *http.Server
	serverErr := make(chan error, 1)
	if a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		server = &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
		a.logger.Info("metrics listening", "addr", a.cfg.Metrics.Listen)
	}

	if err := runner.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		a.logger.Error("metrics listener failed", "error", runErr)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Scheduler.StopTimeout)
	defer cancel()

	if err := runner.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	if server != nil {
		if err := server.Shutdown(stopCtx); err != nil {
			a.logger.Warn("metrics shutdown", "error", err)
		}
	}
	return runErr
}
