package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/ports"
)

const analysisTable = "article_analysis"

const analysisSchema = `CREATE TABLE IF NOT EXISTS article_analysis (
    article_id      TEXT PRIMARY KEY,
    url             TEXT NOT NULL,
    title           TEXT NOT NULL,
    category        TEXT NOT NULL DEFAULT '',
    department      TEXT NOT NULL DEFAULT '',
    publish_time    TEXT NOT NULL DEFAULT '',
    relevance_score DOUBLE PRECISION NOT NULL,
    summary         TEXT NOT NULL DEFAULT '',
    reason          TEXT NOT NULL DEFAULT '',
    profile_hash    TEXT NOT NULL DEFAULT '',
    analyzed_at     TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository mirrors analysis results into Postgres for reporting.
// The JSON stores stay authoritative.
type PostgresRepository struct {
	db *sql.DB
}

var _ ports.AnalysisSink = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// OpenPostgres connects with the lib/pq driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the mirror table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, analysisSchema); err != nil {
		return fmt.Errorf("create analysis table: %w", err)
	}
	return nil
}

// SaveAnalysis upserts the analysis snapshot for one article.
func (r *PostgresRepository) SaveAnalysis(ctx context.Context, entry domain.IndexEntry, record domain.AnalysisRecord) error {
	if r.db == nil {
		return nil
	}

	query, args, err := buildAnalysisUpsert(entry, record)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}
	return nil
}

func buildAnalysisUpsert(entry domain.IndexEntry, record domain.AnalysisRecord) (string, []interface{}, error) {
	return psql.Insert(analysisTable).
		Columns("article_id", "url", "title", "category", "department", "publish_time",
			"relevance_score", "summary", "reason", "profile_hash", "analyzed_at").
		Values(record.ArticleID, entry.CanonicalURL, entry.Title, entry.Category, entry.Department, entry.PublishTime,
			record.RelevanceScore, record.Summary, record.Reason, record.ProfileHash, record.Timestamp).
		Suffix(`ON CONFLICT (article_id) DO UPDATE
              SET relevance_score = EXCLUDED.relevance_score,
                  summary = EXCLUDED.summary,
                  reason = EXCLUDED.reason,
                  profile_hash = EXCLUDED.profile_hash,
                  analyzed_at = EXCLUDED.analyzed_at,
                  updated_at = NOW()`).
		ToSql()
}
