package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsIndexer/internal/domain"
)

func sampleArticle(url string) domain.Article {
	return domain.Article{
		ID:           domain.ArticleID(url),
		Title:        "Library opening hours",
		Content:      "The library opens at 8am.",
		Department:   "Library",
		PublishTime:  "2024-03-02",
		Source:       "campus-news",
		CanonicalURL: url,
		FetchTime:    time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestArticleStorePutGet(t *testing.T) {
	t.Parallel()

	s, err := OpenArticleStore(t.TempDir(), nil)
	require.NoError(t, err)

	a := sampleArticle("https://x.test/info/1.htm")
	id, err := s.Put(a)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
	assert.True(t, s.Exists(id))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestArticleStorePutIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := OpenArticleStore(dir, nil)
	require.NoError(t, err)

	a := sampleArticle("https://x.test/info/1.htm")
	id1, err := s.Put(a)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(dir, id1+".json"))
	require.NoError(t, err)

	changed := a
	changed.Content = "rewritten"
	id2, err := s.Put(changed)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	second, err := os.ReadFile(filepath.Join(dir, id2+".json"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestArticleStoreDerivesMissingID(t *testing.T) {
	t.Parallel()

	s, err := OpenArticleStore(t.TempDir(), nil)
	require.NoError(t, err)

	a := sampleArticle("https://x.test/info/2.htm")
	a.ID = ""
	id, err := s.Put(a)
	require.NoError(t, err)
	assert.Equal(t, domain.ArticleID(a.CanonicalURL), id)
}

func TestArticleStoreGetMissing(t *testing.T) {
	t.Parallel()

	s, err := OpenArticleStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = s.Get(domain.ArticleID("https://x.test/none"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Get("../../etc/passwd")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, s.Exists("../index"))
}

func TestArticleStoreOpenRemovesPartialWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	partial := filepath.Join(dir, domain.ArticleID("https://x.test/1")+".json.tmp-999")
	require.NoError(t, os.WriteFile(partial, []byte(`{"id":`), 0o644))

	_, err := OpenArticleStore(dir, nil)
	require.NoError(t, err)
	_, statErr := os.Stat(partial)
	assert.True(t, os.IsNotExist(statErr))
}
