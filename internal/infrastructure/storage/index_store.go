package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/ports"
)

const (
	indexVersion = 1

	defaultLockWait  = 5 * time.Second
	lockRetryBackoff = 10 * time.Millisecond
)

type indexFile struct {
	Version   int                 `json:"version"`
	UpdatedAt time.Time           `json:"updated_at"`
	Entries   []domain.IndexEntry `json:"entries"`
}

type fileStamp struct {
	info os.FileInfo
}

func statStamp(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileStamp{}, nil
		}
		return fileStamp{}, err
	}
	return fileStamp{info: info}, nil
}

// same reports whether both stamps describe the same committed file. Every
// commit renames a fresh file into place, so identity changes with it.
func (f fileStamp) same(other fileStamp) bool {
	if f.info == nil || other.info == nil {
		return f.info == nil && other.info == nil
	}
	return os.SameFile(f.info, other.info) &&
		f.info.Size() == other.info.Size() &&
		f.info.ModTime().Equal(other.info.ModTime())
}

// IndexStore maps canonical URLs to index entries. Entries keep insertion
// order; every committed change rewrites index.json atomically. Writers are
// serialised in-process by a mutex and across processes by an advisory lock
// on index.json.lock; readers work on the in-memory snapshot.
type IndexStore struct {
	path     string
	writer   atomicWriter
	logger   *slog.Logger
	fileLock *flock.Flock
	lockWait time.Duration

	mu      sync.RWMutex
	entries []domain.IndexEntry
	pos     map[string]int
	stamp   fileStamp
}

var _ ports.IndexStore = (*IndexStore)(nil)

// OpenIndexStore loads path, discarding temp files from interrupted commits.
// A corrupt index is an error; a missing one starts empty.
func OpenIndexStore(path string, log *slog.Logger) (*IndexStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	s := &IndexStore{
		path:     path,
		logger:   log,
		fileLock: flock.New(path + ".lock"),
		lockWait: defaultLockWait,
	}

	// Temps are only stale while nobody holds the lock.
	unlock, err := s.lockFile()
	if err != nil {
		return nil, err
	}
	removed, err := removeStaleTemps(filepath.Dir(path), filepath.Base(path))
	unlock()
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		s.warn("discarded interrupted index commits", "count", removed)
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// lockFile takes the cross-process writer lock. Failing to get it within
// lockWait is reported as ErrIndexConflict.
func (s *IndexStore) lockFile() (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockWait)
	defer cancel()

	ok, err := s.fileLock.TryLockContext(ctx, lockRetryBackoff)
	if !ok {
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("lock index: %w", err)
		}
		return nil, fmt.Errorf("%w: %s is locked by another writer", domain.ErrIndexConflict, filepath.Base(s.path))
	}
	return func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.warn("unlock index", "error", err)
		}
	}, nil
}

// Reload replaces the in-memory snapshot with the file contents.
func (s *IndexStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *IndexStore) loadLocked() error {
	var file indexFile
	if _, err := readJSON(s.path, &file); err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	entries := make([]domain.IndexEntry, 0, len(file.Entries))
	pos := make(map[string]int, len(file.Entries))
	for _, entry := range file.Entries {
		if entry.CanonicalURL == "" {
			continue
		}
		if i, ok := pos[entry.CanonicalURL]; ok {
			s.warn("duplicate url in index file, merging", "url", entry.CanonicalURL)
			entries[i] = mergeEntry(entries[i], entry)
			continue
		}
		pos[entry.CanonicalURL] = len(entries)
		entries = append(entries, entry)
	}

	stamp, err := statStamp(s.path)
	if err != nil {
		return fmt.Errorf("stat index: %w", err)
	}

	s.entries = entries
	s.pos = pos
	s.stamp = stamp
	return nil
}

// Lookup returns the entry stored for canonicalURL.
func (s *IndexStore) Lookup(canonicalURL string) (domain.IndexEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.pos[canonicalURL]
	if !ok {
		return domain.IndexEntry{}, false
	}
	return s.entries[i], true
}

// Upsert inserts or merges entry and commits the index. A full entry
// supersedes a summary-only one; a summary never replaces a full entry.
// The stored entry is returned.
func (s *IndexStore) Upsert(entry domain.IndexEntry) (domain.IndexEntry, error) {
	if strings.TrimSpace(entry.CanonicalURL) == "" {
		return domain.IndexEntry{}, fmt.Errorf("index entry has no canonical url")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile()
	if err != nil {
		return domain.IndexEntry{}, err
	}
	defer unlock()

	if err := s.refreshLocked(); err != nil {
		return domain.IndexEntry{}, err
	}

	next := make([]domain.IndexEntry, len(s.entries), len(s.entries)+1)
	copy(next, s.entries)

	i, exists := s.pos[entry.CanonicalURL]
	stored := entry
	if exists {
		current := s.entries[i]
		if current.IsFull() && !entry.IsFull() {
			return current, nil
		}
		stored = mergeEntry(current, entry)
		next[i] = stored
	} else {
		next = append(next, stored)
	}

	if err := s.commitLocked(next); err != nil {
		return domain.IndexEntry{}, err
	}
	if !exists {
		s.pos[entry.CanonicalURL] = len(next) - 1
	}
	return stored, nil
}

// Reconcile downgrades full entries whose article record is missing, so the
// next full crawl fetches them again. It returns how many were downgraded.
func (s *IndexStore) Reconcile(exists func(articleID string) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile()
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := s.refreshLocked(); err != nil {
		return 0, err
	}

	next := make([]domain.IndexEntry, len(s.entries))
	copy(next, s.entries)

	downgraded := 0
	for i := range next {
		if next[i].IsFull() && !exists(next[i].ArticleID) {
			s.warn("index entry references missing article", "url", next[i].CanonicalURL, "article_id", next[i].ArticleID)
			next[i].ArticleID = ""
			downgraded++
		}
	}
	if downgraded == 0 {
		return 0, nil
	}

	if err := s.commitLocked(next); err != nil {
		return 0, err
	}
	return downgraded, nil
}

// SearchByTitle returns entries whose title contains substring, ignoring case.
func (s *IndexStore) SearchByTitle(substring string) []domain.IndexEntry {
	needle := strings.ToLower(strings.TrimSpace(substring))
	return s.filter(func(e domain.IndexEntry) bool {
		return strings.Contains(strings.ToLower(e.Title), needle)
	})
}

// SearchByDepartment returns entries published by the named department.
func (s *IndexStore) SearchByDepartment(name string) []domain.IndexEntry {
	name = strings.TrimSpace(name)
	return s.filter(func(e domain.IndexEntry) bool {
		return strings.EqualFold(e.Department, name)
	})
}

// All returns every entry in insertion order.
func (s *IndexStore) All() []domain.IndexEntry {
	return s.filter(func(domain.IndexEntry) bool { return true })
}

// Len returns the number of indexed URLs.
func (s *IndexStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *IndexStore) filter(keep func(domain.IndexEntry) bool) []domain.IndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.IndexEntry, 0)
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// refreshLocked reloads the snapshot when another writer committed since
// our last load. Callers hold the file lock.
func (s *IndexStore) refreshLocked() error {
	current, err := statStamp(s.path)
	if err != nil {
		return fmt.Errorf("stat index: %w", err)
	}
	if current.same(s.stamp) {
		return nil
	}
	s.debug("index changed on disk, reloading")
	return s.loadLocked()
}

func (s *IndexStore) commitLocked(next []domain.IndexEntry) error {
	file := indexFile{Version: indexVersion, UpdatedAt: time.Now().UTC(), Entries: next}
	if err := s.writer.writeJSON(s.path, file); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}

	stamp, err := statStamp(s.path)
	if err != nil {
		return fmt.Errorf("stat index: %w", err)
	}
	s.entries = next
	s.stamp = stamp
	return nil
}

// mergeEntry folds incoming into current, keeping listing metadata the
// incoming entry lacks.
func mergeEntry(current, incoming domain.IndexEntry) domain.IndexEntry {
	if current.IsFull() && !incoming.IsFull() {
		return current
	}
	merged := incoming
	if merged.Title == "" {
		merged.Title = current.Title
	}
	if merged.Category == "" {
		merged.Category = current.Category
	}
	if merged.Department == "" {
		merged.Department = current.Department
	}
	if merged.PublishTime == "" {
		merged.PublishTime = current.PublishTime
	}
	merged.HasAttachment = merged.HasAttachment || current.HasAttachment
	if merged.FetchTime.IsZero() {
		merged.FetchTime = current.FetchTime
	}
	return merged
}

func (s *IndexStore) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *IndexStore) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
