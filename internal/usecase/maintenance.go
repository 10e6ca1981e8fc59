package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RecordPruner deletes analysis records older than a cutoff.
type RecordPruner interface {
	DeleteOlderThan(cutoff time.Time) (int, error)
}

// Cleaner removes analysis records past their retention.
type Cleaner struct {
	pruner    RecordPruner
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewCleaner returns a cleaner keeping records for retentionDays.
func NewCleaner(pruner RecordPruner, retentionDays int, log *slog.Logger) *Cleaner {
	return &Cleaner{
		pruner:    pruner,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run deletes expired records and returns how many were removed.
func (c *Cleaner) Run(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if c.retention <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.retention)
	n, err := c.pruner.DeleteOlderThan(cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune analysis records: %w", err)
	}
	if c.logger != nil {
		c.logger.Info("old analysis records removed", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// HealthCheck verifies the data directories are writable.
type HealthCheck struct {
	dirs             []string
	scorerConfigured bool
	logger           *slog.Logger
}

// NewHealthCheck probes dirs on every run.
func NewHealthCheck(dirs []string, scorerConfigured bool, log *slog.Logger) *HealthCheck {
	return &HealthCheck{dirs: dirs, scorerConfigured: scorerConfigured, logger: log}
}

// Run returns every failed probe joined into one error.
func (h *HealthCheck) Run(ctx context.Context) error {
	var errs []error
	for _, dir := range h.dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := probeWritable(dir); err != nil {
			errs = append(errs, err)
		}
	}
	if !h.scorerConfigured && h.logger != nil {
		h.logger.Warn("no scorer configured, analysis is disabled")
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if h.logger != nil {
		h.logger.Debug("health check passed", "dirs", len(h.dirs))
	}
	return nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return fmt.Errorf("%s not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("remove probe %s: %w", filepath.Base(name), err)
	}
	return nil
}
