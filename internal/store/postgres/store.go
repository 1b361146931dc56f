// Package postgres provides the Postgres-backed content store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements pipeline.Store on Postgres. Every method is a short,
// self-contained statement; uniqueness violations are absorbed via
// ON CONFLICT DO NOTHING so retrying workers never observe an error.
type Store struct {
	pool DB
}

var _ pipeline.Store = (*Store)(nil)

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool DB) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the content tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS articles_raw (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE,
			published_date TEXT,
			body TEXT,
			source TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS articles_enriched (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE REFERENCES articles_raw (url),
			published_date TEXT,
			body TEXT,
			condensed TEXT,
			translated TEXT,
			source TEXT,
			tags TEXT NOT NULL DEFAULT '',
			delivered BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS live_feed_items (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL UNIQUE,
			facts JSONB NOT NULL DEFAULT '[]',
			body TEXT,
			event_date TIMESTAMPTZ,
			translated TEXT,
			delivered BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS tag_rules (
			id BIGSERIAL PRIMARY KEY,
			pattern TEXT NOT NULL,
			tag TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// RawExists reports whether a raw article with the URL is already stored.
func (s *Store) RawExists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM articles_raw WHERE url = $1`, url).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query raw exists: %w", err)
	}
	return true, nil
}

// InsertRaw stores a raw article. A duplicate URL is a silent no-op; the
// return value reports whether a row was actually written.
func (s *Store) InsertRaw(ctx context.Context, article pipeline.RawArticle) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO articles_raw (title, url, published_date, body, source)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url) DO NOTHING`,
		article.Title, article.URL, article.PublishedDate, article.Body, article.Source)
	if err != nil {
		return false, fmt.Errorf("insert raw: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertEnriched stores an enriched article, once per raw URL.
func (s *Store) InsertEnriched(ctx context.Context, article pipeline.EnrichedArticle) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO articles_enriched (title, url, published_date, body, condensed, translated, source, tags)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (url) DO NOTHING`,
		article.Title, article.URL, article.PublishedDate, article.Body,
		article.Condensed, article.Translated, article.Source, joinTags(article.Tags))
	if err != nil {
		return false, fmt.Errorf("insert enriched: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertLiveFeedItem stores a live feed entry, keyed by title.
func (s *Store) InsertLiveFeedItem(ctx context.Context, item pipeline.LiveFeedItem) (bool, error) {
	factsJSON, err := json.Marshal(item.Facts)
	if err != nil {
		return false, fmt.Errorf("marshal facts: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO live_feed_items (title, facts, body, event_date, translated)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (title) DO NOTHING`,
		item.Title, factsJSON, item.Body, item.EventDate, item.Translated)
	if err != nil {
		return false, fmt.Errorf("insert live feed item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListUnenriched returns raw articles with no enriched counterpart.
func (s *Store) ListUnenriched(ctx context.Context) ([]pipeline.RawArticle, error) {
	rows, err := s.pool.Query(ctx, `
SELECT r.title, r.url, r.published_date, r.body, r.source, r.created_at
FROM articles_raw r
LEFT JOIN articles_enriched e ON r.url = e.url
WHERE e.url IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("query unenriched: %w", err)
	}
	defer rows.Close()

	var out []pipeline.RawArticle
	for rows.Next() {
		var a pipeline.RawArticle
		if err := rows.Scan(&a.Title, &a.URL, &a.PublishedDate, &a.Body, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan raw article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unenriched: %w", err)
	}
	return out, nil
}

const enrichedColumns = `id, title, url, published_date, body, condensed, translated, source, tags, delivered, created_at`

func scanEnriched(rows pgx.Rows) ([]pipeline.EnrichedArticle, error) {
	var out []pipeline.EnrichedArticle
	for rows.Next() {
		var (
			a    pipeline.EnrichedArticle
			tags string
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.URL, &a.PublishedDate, &a.Body,
			&a.Condensed, &a.Translated, &a.Source, &tags, &a.Delivered, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan enriched article: %w", err)
		}
		a.Tags = splitTags(tags)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enriched: %w", err)
	}
	return out, nil
}

// ListUndeliveredArticles returns enriched articles not yet delivered.
func (s *Store) ListUndeliveredArticles(ctx context.Context) ([]pipeline.EnrichedArticle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+enrichedColumns+` FROM articles_enriched WHERE delivered = FALSE`)
	if err != nil {
		return nil, fmt.Errorf("query undelivered articles: %w", err)
	}
	defer rows.Close()
	return scanEnriched(rows)
}

// ListEnrichedArticles returns every enriched article (used by reconciliation).
func (s *Store) ListEnrichedArticles(ctx context.Context) ([]pipeline.EnrichedArticle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+enrichedColumns+` FROM articles_enriched`)
	if err != nil {
		return nil, fmt.Errorf("query enriched: %w", err)
	}
	defer rows.Close()
	return scanEnriched(rows)
}

// ListUndeliveredLiveFeed returns live feed items not yet delivered.
func (s *Store) ListUndeliveredLiveFeed(ctx context.Context) ([]pipeline.LiveFeedItem, error) {
	rows, err := s.pool.Query(ctx, `
SELECT title, facts, body, event_date, translated, delivered, created_at
FROM live_feed_items
WHERE delivered = FALSE`)
	if err != nil {
		return nil, fmt.Errorf("query undelivered live feed: %w", err)
	}
	defer rows.Close()

	var out []pipeline.LiveFeedItem
	for rows.Next() {
		var (
			item      pipeline.LiveFeedItem
			factsJSON []byte
		)
		if err := rows.Scan(&item.Title, &factsJSON, &item.Body, &item.EventDate,
			&item.Translated, &item.Delivered, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan live feed item: %w", err)
		}
		if len(factsJSON) > 0 {
			if err := json.Unmarshal(factsJSON, &item.Facts); err != nil {
				return nil, fmt.Errorf("unmarshal facts: %w", err)
			}
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate live feed: %w", err)
	}
	return out, nil
}

// MarkDelivered flips the delivered flag for an enriched article. The flag is
// monotonic: rows already delivered are left untouched.
func (s *Store) MarkDelivered(ctx context.Context, url string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE articles_enriched SET delivered = TRUE WHERE url = $1 AND delivered = FALSE`, url); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkLiveFeedDelivered flips the delivered flag for a live feed item.
func (s *Store) MarkLiveFeedDelivered(ctx context.Context, title string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE live_feed_items SET delivered = TRUE WHERE title = $1 AND delivered = FALSE`, title); err != nil {
		return fmt.Errorf("mark live feed delivered: %w", err)
	}
	return nil
}

// UpdateTags replaces the stored tag set for an enriched article.
func (s *Store) UpdateTags(ctx context.Context, url string, tags []string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE articles_enriched SET tags = $2 WHERE url = $1`, url, joinTags(tags)); err != nil {
		return fmt.Errorf("update tags: %w", err)
	}
	return nil
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
