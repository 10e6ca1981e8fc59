package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/ports"
)

var articleIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ArticleStore keeps one JSON document per article under dir.
type ArticleStore struct {
	dir    string
	writer atomicWriter
	logger *slog.Logger
	mu     sync.Mutex
}

var _ ports.ArticleStore = (*ArticleStore)(nil)

// OpenArticleStore prepares dir and clears leftovers of interrupted writes.
func OpenArticleStore(dir string, log *slog.Logger) (*ArticleStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create article dir: %w", err)
	}
	s := &ArticleStore{dir: dir, logger: log}
	if err := s.sweepTemps(); err != nil {
		return nil, err
	}
	return s, nil
}

// Put stores a new article. Articles are immutable once written, so storing
// the same id twice leaves the first document in place and returns its id.
func (s *ArticleStore) Put(article domain.Article) (string, error) {
	if article.CanonicalURL == "" {
		return "", fmt.Errorf("article has no canonical url")
	}
	if article.ID == "" {
		article.ID = domain.ArticleID(article.CanonicalURL)
	}
	if !articleIDPattern.MatchString(article.ID) {
		return "", fmt.Errorf("invalid article id %q", article.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(article.ID)
	if _, err := os.Stat(path); err == nil {
		return article.ID, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat article %s: %w", article.ID, err)
	}

	if err := s.writer.writeJSON(path, article); err != nil {
		return "", fmt.Errorf("store article %s: %w", article.ID, err)
	}
	return article.ID, nil
}

// Get loads the article with the given id.
func (s *ArticleStore) Get(id string) (domain.Article, error) {
	if !articleIDPattern.MatchString(id) {
		return domain.Article{}, fmt.Errorf("article %q: %w", id, domain.ErrNotFound)
	}

	var article domain.Article
	found, err := readJSON(s.pathFor(id), &article)
	if err != nil {
		return domain.Article{}, fmt.Errorf("load article %s: %w", id, err)
	}
	if !found {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	return article, nil
}

// Exists reports whether an article document is stored for id.
func (s *ArticleStore) Exists(id string) bool {
	if !articleIDPattern.MatchString(id) {
		return false
	}
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

// Dir returns the directory holding article documents.
func (s *ArticleStore) Dir() string {
	return s.dir
}

func (s *ArticleStore) pathFor(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *ArticleStore) sweepTemps() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"+tempPattern))
	if err != nil {
		return fmt.Errorf("scan article dir: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err == nil && s.logger != nil {
			s.logger.Warn("removed interrupted article write", "file", filepath.Base(m))
		}
	}
	return nil
}
