package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"NewsIndexer/internal/domain"
)

type jobStateFile struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Jobs      []domain.JobRun `json:"jobs"`
}

// JobStateStore persists scheduler job state to a single JSON file.
type JobStateStore struct {
	path   string
	writer atomicWriter
	mu     sync.Mutex
}

// NewJobStateStore returns a store backed by path. The file is created on
// the first save.
func NewJobStateStore(path string) *JobStateStore {
	return &JobStateStore{path: path}
}

// Load returns the persisted runs keyed by job id.
func (s *JobStateStore) Load() (map[string]domain.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var file jobStateFile
	if _, err := readJSON(s.path, &file); err != nil {
		return nil, fmt.Errorf("load job state: %w", err)
	}
	out := make(map[string]domain.JobRun, len(file.Jobs))
	for _, run := range file.Jobs {
		out[run.JobID] = run
	}
	return out, nil
}

// Save replaces the persisted state with runs.
func (s *JobStateStore) Save(runs []domain.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]domain.JobRun(nil), runs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].JobID < sorted[j].JobID })

	file := jobStateFile{Version: indexVersion, UpdatedAt: time.Now().UTC(), Jobs: sorted}
	if err := s.writer.writeJSON(s.path, file); err != nil {
		return fmt.Errorf("save job state: %w", err)
	}
	return nil
}
