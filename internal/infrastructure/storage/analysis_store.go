package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/ports"
)

const analysisIndexName = "index.json"

type analysisIndexFile struct {
	Version   int                     `json:"version"`
	UpdatedAt time.Time               `json:"updated_at"`
	Records   []domain.AnalysisRecord `json:"records"`
}

// AnalysisStore keeps the latest analysis per article: one document per id
// plus an overview index used for listing and statistics.
type AnalysisStore struct {
	dir    string
	writer atomicWriter
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]domain.AnalysisRecord
}

var _ ports.AnalysisStore = (*AnalysisStore)(nil)

// OpenAnalysisStore loads the overview index from dir. When the overview is
// missing it is rebuilt from the per-article documents.
func OpenAnalysisStore(dir string, log *slog.Logger) (*AnalysisStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create analysis dir: %w", err)
	}
	if _, err := removeStaleTemps(dir, analysisIndexName); err != nil {
		return nil, err
	}

	s := &AnalysisStore{dir: dir, logger: log, records: make(map[string]domain.AnalysisRecord)}

	var file analysisIndexFile
	found, err := readJSON(s.indexPath(), &file)
	if err != nil {
		return nil, fmt.Errorf("load analysis index: %w", err)
	}
	if found {
		for _, r := range file.Records {
			s.records[r.ArticleID] = r
		}
		return s, nil
	}

	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AnalysisStore) rebuild() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("scan analysis dir: %w", err)
	}
	for _, m := range matches {
		if filepath.Base(m) == analysisIndexName {
			continue
		}
		var r domain.AnalysisRecord
		if _, err := readJSON(m, &r); err != nil {
			s.warn("skipping unreadable analysis record", "file", filepath.Base(m), "error", err)
			continue
		}
		if r.ArticleID != "" {
			s.records[r.ArticleID] = r
		}
	}
	if len(s.records) > 0 {
		s.warn("rebuilt analysis index from records", "count", len(s.records))
	}
	return nil
}

// Get returns the latest analysis for articleID.
func (s *AnalysisStore) Get(articleID string) (domain.AnalysisRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[articleID]
	return r, ok
}

// Put replaces the analysis for record.ArticleID.
func (s *AnalysisStore) Put(record domain.AnalysisRecord) error {
	if !articleIDPattern.MatchString(record.ArticleID) {
		return fmt.Errorf("invalid article id %q", record.ArticleID)
	}
	if record.RelevanceScore < domain.MinRelevanceScore || record.RelevanceScore > domain.MaxRelevanceScore {
		return fmt.Errorf("relevance score %.2f out of range", record.RelevanceScore)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.writeJSON(s.recordPath(record.ArticleID), record); err != nil {
		return fmt.Errorf("store analysis %s: %w", record.ArticleID, err)
	}

	next := s.cloneLocked()
	next[record.ArticleID] = record
	if err := s.commitLocked(next); err != nil {
		return err
	}
	return nil
}

// List returns all records, highest score first.
func (s *AnalysisStore) List() []domain.AnalysisRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRecords(s.records)
}

// DeleteOlderThan removes records analysed before cutoff and returns how many
// were removed.
func (s *AnalysisStore) DeleteOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneLocked()
	var stale []string
	for id, r := range next {
		if r.Timestamp.Before(cutoff) {
			stale = append(stale, id)
			delete(next, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := s.commitLocked(next); err != nil {
		return 0, err
	}
	for _, id := range stale {
		if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
			s.warn("remove analysis record", "article_id", id, "error", err)
		}
	}
	return len(stale), nil
}

// Stats summarises the stored scores.
func (s *AnalysisStore) Stats() domain.AnalysisStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.AnalysisStats{Count: len(s.records)}
	if stats.Count == 0 {
		return stats
	}
	total := 0.0
	for _, r := range s.records {
		total += r.RelevanceScore
		if r.RelevanceScore > stats.MaxScore {
			stats.MaxScore = r.RelevanceScore
		}
	}
	stats.AverageScore = total / float64(stats.Count)
	return stats
}

// Dir returns the directory holding analysis documents.
func (s *AnalysisStore) Dir() string {
	return s.dir
}

func (s *AnalysisStore) cloneLocked() map[string]domain.AnalysisRecord {
	next := make(map[string]domain.AnalysisRecord, len(s.records)+1)
	for k, v := range s.records {
		next[k] = v
	}
	return next
}

func (s *AnalysisStore) commitLocked(next map[string]domain.AnalysisRecord) error {
	file := analysisIndexFile{Version: indexVersion, UpdatedAt: time.Now().UTC(), Records: sortedRecords(next)}
	if err := s.writer.writeJSON(s.indexPath(), file); err != nil {
		return fmt.Errorf("commit analysis index: %w", err)
	}
	s.records = next
	return nil
}

func (s *AnalysisStore) indexPath() string {
	return filepath.Join(s.dir, analysisIndexName)
}

func (s *AnalysisStore) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *AnalysisStore) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func sortedRecords(records map[string]domain.AnalysisRecord) []domain.AnalysisRecord {
	out := make([]domain.AnalysisRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].ArticleID < out[j].ArticleID
	})
	return out
}
