package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/metrics"
	"NewsIndexer/internal/ports"
)

// ErrScorerDisabled is returned when no scorer is configured.
var ErrScorerDisabled = errors.New("analysis scorer not configured")

// AnalyzerDeps wires the analysis pipeline.
type AnalyzerDeps struct {
	Index    ports.IndexStore
	Articles ports.ArticleStore
	Analyses ports.AnalysisStore
	Scorer   ports.Scorer
	Sink     ports.AnalysisSink
	Notifier ports.Notifier
	Profile  domain.UserProfile
	// DigestMinScore selects which newly scored articles go into the digest.
	DigestMinScore float64
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Now            func() time.Time
}

// Analyzer scores indexed articles that have no current analysis.
type Analyzer struct {
	index          ports.IndexStore
	articles       ports.ArticleStore
	analyses       ports.AnalysisStore
	scorer         ports.Scorer
	sink           ports.AnalysisSink
	notifier       ports.Notifier
	profile        domain.UserProfile
	digestMinScore float64
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time
}

// NewAnalyzer constructs the analysis use case.
func NewAnalyzer(deps AnalyzerDeps) *Analyzer {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Analyzer{
		index:          deps.Index,
		articles:       deps.Articles,
		analyses:       deps.Analyses,
		scorer:         deps.Scorer,
		sink:           deps.Sink,
		notifier:       deps.Notifier,
		profile:        deps.Profile,
		digestMinScore: deps.DigestMinScore,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		now:            now,
	}
}

// Enabled reports whether a scorer is configured.
func (a *Analyzer) Enabled() bool {
	return a.scorer != nil
}

// Run scores up to batchSize full entries lacking a current record. Scorer
// failures are counted and the batch continues.
func (a *Analyzer) Run(ctx context.Context, batchSize int) (domain.AnalysisReport, error) {
	var report domain.AnalysisReport
	if a.scorer == nil {
		return report, ErrScorerDisabled
	}
	if batchSize < 1 {
		return report, fmt.Errorf("batch size must be >= 1, got %d", batchSize)
	}

	hash := a.profile.Hash()
	var digest []analysedEntry

	for _, entry := range a.index.All() {
		if !entry.IsFull() {
			continue
		}
		if rec, ok := a.analyses.Get(entry.ArticleID); ok && rec.IsCurrent(entry, hash) {
			report.SkippedAlreadyAnalyzed++
			a.metrics.IncAnalysisItem("skipped")
			continue
		}
		if report.Processed+report.Failed >= batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		rec, err := a.analyze(ctx, entry, hash)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			a.metrics.IncAnalysisItem("failed")
			a.warn("analysis failed", "article_id", entry.ArticleID, "error", err)
			continue
		}
		report.Processed++
		a.metrics.IncAnalysisItem("processed")
		if rec.RelevanceScore >= a.digestMinScore {
			digest = append(digest, analysedEntry{entry: entry, record: rec})
		}
	}

	a.info("analysis batch finished",
		"processed", report.Processed,
		"skipped", report.SkippedAlreadyAnalyzed,
		"failed", report.Failed,
	)
	a.publish(ctx, digest)
	return report, nil
}

// AnalyzeArticle scores one stored article regardless of existing records.
func (a *Analyzer) AnalyzeArticle(ctx context.Context, articleID string) (domain.AnalysisRecord, error) {
	if a.scorer == nil {
		return domain.AnalysisRecord{}, ErrScorerDisabled
	}

	for _, entry := range a.index.All() {
		if entry.ArticleID != articleID {
			continue
		}
		rec, err := a.analyze(ctx, entry, a.profile.Hash())
		if err != nil {
			a.metrics.IncAnalysisItem("failed")
			return domain.AnalysisRecord{}, err
		}
		a.metrics.IncAnalysisItem("processed")
		return rec, nil
	}
	return domain.AnalysisRecord{}, fmt.Errorf("article %s: %w", articleID, domain.ErrNotFound)
}

func (a *Analyzer) analyze(ctx context.Context, entry domain.IndexEntry, profileHash string) (domain.AnalysisRecord, error) {
	article, err := a.articles.Get(entry.ArticleID)
	if err != nil {
		return domain.AnalysisRecord{}, fmt.Errorf("load article: %w", err)
	}

	score, err := a.scorer.Score(ctx, article, a.profile)
	if err != nil {
		return domain.AnalysisRecord{}, &domain.ScorerError{ArticleID: article.ID, Err: err}
	}
	if score.RelevanceScore < domain.MinRelevanceScore || score.RelevanceScore > domain.MaxRelevanceScore {
		return domain.AnalysisRecord{}, &domain.ScorerError{
			ArticleID: article.ID,
			Err:       fmt.Errorf("relevance score %.2f outside [%g, %g]", score.RelevanceScore, domain.MinRelevanceScore, domain.MaxRelevanceScore),
		}
	}

	rec := domain.AnalysisRecord{
		ArticleID:      article.ID,
		Title:          article.Title,
		RelevanceScore: score.RelevanceScore,
		Summary:        score.Summary,
		Reason:         score.Reason,
		Timestamp:      a.now(),
		ProfileHash:    profileHash,
	}
	if err := a.analyses.Put(rec); err != nil {
		return domain.AnalysisRecord{}, fmt.Errorf("store analysis: %w", err)
	}

	if a.sink != nil {
		if err := a.sink.SaveAnalysis(ctx, entry, rec); err != nil {
			a.warn("analysis mirror failed", "article_id", rec.ArticleID, "error", err)
		}
	}
	return rec, nil
}

type analysedEntry struct {
	entry  domain.IndexEntry
	record domain.AnalysisRecord
}

func (a *Analyzer) publish(ctx context.Context, digest []analysedEntry) {
	if a.notifier == nil || len(digest) == 0 {
		return
	}
	if err := a.notifier.PublishDigest(ctx, buildDigestMessage(digest)); err != nil {
		a.warn("publish digest", "error", err)
	}
}

func buildDigestMessage(items []analysedEntry) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\nScore: %.1f\n%s\n%s\n\n",
			item.record.Title,
			item.record.RelevanceScore,
			item.record.Summary,
			item.entry.CanonicalURL)
	}
	return b.String()
}

func (a *Analyzer) info(msg string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Info(msg, args...)
	}
}

func (a *Analyzer) warn(msg string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Warn(msg, args...)
	}
}
