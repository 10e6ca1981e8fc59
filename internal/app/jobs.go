package app

import (
	"fmt"

	"NewsIndexer/internal/config"
	"NewsIndexer/internal/infrastructure/scheduler"
	"NewsIndexer/internal/usecase"
)

func registerJobs(r *scheduler.Runner, cfg config.Config, jobs *usecase.Jobs) error {
	entries := []struct {
		id     string
		cfg    config.JobConfig
		action scheduler.Action
	}{
		{"crawl", cfg.Scheduler.Jobs.Crawl, jobs.Crawl},
		{"analysis", cfg.Scheduler.Jobs.Analysis, jobs.Analysis},
		{"cleanup", cfg.Scheduler.Jobs.Cleanup, jobs.Cleanup},
		{"health", cfg.Scheduler.Jobs.Health, jobs.Health},
	}

	for _, e := range entries {
		if !e.cfg.Enabled {
			continue
		}
		trigger, err := scheduler.ParseTrigger(e.cfg.Cron, e.cfg.Interval, cfg.Scheduler.Location())
		if err != nil {
			return fmt.Errorf("job %s: %w", e.id, err)
		}
		if err := r.Register(scheduler.Job{
			ID:      e.id,
			Trigger: trigger,
			Retry:   e.cfg.Retry,
			Timeout: e.cfg.Timeout,
			Action:  e.action,
		}); err != nil {
			return err
		}
	}
	return nil
}
