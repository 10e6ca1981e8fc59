package usecase

import (
	"context"
	"errors"
	"fmt"

	"NewsIndexer/internal/domain"
)

// JobSettings carries the per-job parameters of the scheduled work.
type JobSettings struct {
	CrawlPages    int
	CrawlMode     domain.CrawlMode
	AnalysisBatch int
}

// Jobs exposes the use cases as scheduler actions.
type Jobs struct {
	crawler  *Crawler
	analyzer *Analyzer
	cleaner  *Cleaner
	health   *HealthCheck
	settings JobSettings
}

// NewJobs binds the use cases to their scheduled settings.
func NewJobs(crawler *Crawler, analyzer *Analyzer, cleaner *Cleaner, health *HealthCheck, settings JobSettings) *Jobs {
	return &Jobs{
		crawler:  crawler,
		analyzer: analyzer,
		cleaner:  cleaner,
		health:   health,
		settings: settings,
	}
}

// Crawl fails only when no listing page could be processed.
func (j *Jobs) Crawl(ctx context.Context) error {
	_, err := j.crawler.Run(ctx, j.settings.CrawlPages, j.settings.CrawlMode)
	return err
}

// Analysis scores one batch; with no scorer the run is skipped.
func (j *Jobs) Analysis(ctx context.Context) error {
	report, err := j.analyzer.Run(ctx, j.settings.AnalysisBatch)
	if errors.Is(err, ErrScorerDisabled) {
		return fmt.Errorf("%w: %v", domain.ErrJobSkipped, err)
	}
	if err != nil {
		return err
	}
	if report.Processed == 0 && report.Failed > 0 {
		return fmt.Errorf("all %d analysis attempt(s) failed", report.Failed)
	}
	return nil
}

// Cleanup prunes expired analysis records.
func (j *Jobs) Cleanup(ctx context.Context) error {
	_, err := j.cleaner.Run(ctx)
	return err
}

// Health probes the data directories.
func (j *Jobs) Health(ctx context.Context) error {
	return j.health.Run(ctx)
}
