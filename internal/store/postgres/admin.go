package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// Stats returns raw/enriched row counts plus a tag-frequency breakdown. Tags
// are stored comma-joined, so the breakdown is computed here rather than in SQL.
func (s *Store) Stats(ctx context.Context) (pipeline.Stats, error) {
	stats := pipeline.Stats{TagCounts: map[string]int64{}}

	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM articles_raw`).Scan(&stats.TotalRaw)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("count raw: %w", err)
	}
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM articles_enriched`).Scan(&stats.TotalEnriched)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("count enriched: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT tags FROM articles_enriched WHERE tags <> ''`)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return pipeline.Stats{}, fmt.Errorf("scan tags: %w", err)
		}
		for _, tag := range splitTags(joined) {
			stats.TagCounts[tag]++
		}
	}
	if err := rows.Err(); err != nil {
		return pipeline.Stats{}, fmt.Errorf("iterate tags: %w", err)
	}
	return stats, nil
}

// EnrichedTrend returns daily enriched-article counts for the trailing window,
// zero-filling days with no rows.
func (s *Store) EnrichedTrend(ctx context.Context, days int) ([]pipeline.TrendPoint, error) {
	if days <= 0 {
		days = 10
	}
	start := time.Now().UTC().AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
SELECT to_char(created_at, 'YYYY-MM-DD') AS day, COUNT(*)
FROM articles_enriched
WHERE created_at >= $1
GROUP BY day
ORDER BY day ASC`, start)
	if err != nil {
		return nil, fmt.Errorf("query trend: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var (
			day   string
			count int64
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		counts[day] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trend: %w", err)
	}

	out := make([]pipeline.TrendPoint, 0, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, pipeline.TrendPoint{Date: day, Count: counts[day]})
	}
	return out, nil
}

// EnrichedByDate returns tagged enriched articles created on the given day
// (YYYY-MM-DD).
func (s *Store) EnrichedByDate(ctx context.Context, date string) ([]pipeline.EnrichedArticle, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+enrichedColumns+`
FROM articles_enriched
WHERE to_char(created_at, 'YYYY-MM-DD') = $1 AND tags <> ''
ORDER BY created_at DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("query by date: %w", err)
	}
	defer rows.Close()
	return scanEnriched(rows)
}
