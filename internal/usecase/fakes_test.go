package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"NewsIndexer/internal/domain"
)

type memoryIndex struct {
	mu      sync.Mutex
	entries []domain.IndexEntry
	pos     map[string]int
}

func newMemoryIndex(entries ...domain.IndexEntry) *memoryIndex {
	idx := &memoryIndex{pos: make(map[string]int)}
	for _, e := range entries {
		_, _ = idx.Upsert(e)
	}
	return idx
}

func (m *memoryIndex) Lookup(url string) (domain.IndexEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.pos[url]
	if !ok {
		return domain.IndexEntry{}, false
	}
	return m.entries[i], true
}

func (m *memoryIndex) Upsert(e domain.IndexEntry) (domain.IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.pos[e.CanonicalURL]; ok {
		if m.entries[i].IsFull() && !e.IsFull() {
			return m.entries[i], nil
		}
		m.entries[i] = e
		return e, nil
	}
	m.pos[e.CanonicalURL] = len(m.entries)
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memoryIndex) Reload() error { return nil }

func (m *memoryIndex) SearchByTitle(sub string) []domain.IndexEntry {
	var out []domain.IndexEntry
	for _, e := range m.All() {
		if strings.Contains(strings.ToLower(e.Title), strings.ToLower(sub)) {
			out = append(out, e)
		}
	}
	return out
}

func (m *memoryIndex) SearchByDepartment(name string) []domain.IndexEntry {
	var out []domain.IndexEntry
	for _, e := range m.All() {
		if strings.EqualFold(e.Department, name) {
			out = append(out, e)
		}
	}
	return out
}

func (m *memoryIndex) All() []domain.IndexEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.IndexEntry(nil), m.entries...)
}

type memoryArticles struct {
	mu       sync.Mutex
	articles map[string]domain.Article
}

func newMemoryArticles(articles ...domain.Article) *memoryArticles {
	m := &memoryArticles{articles: make(map[string]domain.Article)}
	for _, a := range articles {
		m.articles[a.ID] = a
	}
	return m
}

func (m *memoryArticles) Put(a domain.Article) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[a.ID]; !ok {
		m.articles[a.ID] = a
	}
	return a.ID, nil
}

func (m *memoryArticles) Get(id string) (domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return domain.Article{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memoryArticles) Exists(id string) bool {
	_, err := m.Get(id)
	return err == nil
}

type memoryAnalyses struct {
	mu      sync.Mutex
	records map[string]domain.AnalysisRecord
}

func newMemoryAnalyses() *memoryAnalyses {
	return &memoryAnalyses{records: make(map[string]domain.AnalysisRecord)}
}

func (m *memoryAnalyses) Get(id string) (domain.AnalysisRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

func (m *memoryAnalyses) Put(r domain.AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ArticleID] = r
	return nil
}

type stubScorer struct {
	mu     sync.Mutex
	calls  []string
	scores map[string]float64
	fail   map[string]bool
}

func (s *stubScorer) Score(_ context.Context, a domain.Article, _ domain.UserProfile) (domain.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, a.ID)
	if s.fail[a.ID] {
		return domain.Score{}, errors.New("workflow returned 502")
	}
	score, ok := s.scores[a.ID]
	if !ok {
		score = 5
	}
	return domain.Score{RelevanceScore: score, Summary: "summary of " + a.Title, Reason: "matches interests"}, nil
}

type recordingSink struct {
	mu    sync.Mutex
	saved []string
}

func (s *recordingSink) SaveAnalysis(_ context.Context, e domain.IndexEntry, r domain.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, r.ArticleID)
	return nil
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) PublishDigest(_ context.Context, digest string) error {
	n.messages = append(n.messages, digest)
	return nil
}
