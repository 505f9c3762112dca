package pgx

import (
	"context"
	"sync"
	"time"

	"graphony/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// CacheStatsDBStore implements store.CacheStatsStore on PostgreSQL. A
// mutex serializes writes so policy state rebuilds see a consistent view.
type CacheStatsDBStore struct {
	conn   pgxIConn
	dbLock sync.Mutex
}

// NewCacheStatsDBStoreParams contains configuration for creating a
// CacheStatsDBStore.
type NewCacheStatsDBStoreParams struct {
	Conn pgxIConn
}

// NewCacheStatsDBStore creates a Postgres-backed stats store over an
// existing connection pool.
func NewCacheStatsDBStore(params NewCacheStatsDBStoreParams) *CacheStatsDBStore {
	return &CacheStatsDBStore{conn: params.Conn}
}

// Upsert stores or replaces an entry record.
func (s *CacheStatsDBStore) Upsert(ctx context.Context, entry common.SampleCacheEntry) error {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO cache_entries (sample_id, genre_tag, size_bytes, access_count, last_access, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sample_id) DO UPDATE SET
			genre_tag = EXCLUDED.genre_tag,
			size_bytes = EXCLUDED.size_bytes,
			access_count = EXCLUDED.access_count,
			last_access = EXCLUDED.last_access,
			fetched_at = EXCLUDED.fetched_at`,
		entry.SampleID,
		entry.GenreTag,
		entry.SizeBytes,
		entry.AccessCount,
		entry.LastAccessTime,
		entry.FetchedAt,
	)
	return err
}

// Touch updates the access statistics of an existing record.
func (s *CacheStatsDBStore) Touch(ctx context.Context, sampleID int64, at time.Time, accessCount int64) error {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()
	_, err := s.conn.Exec(ctx, `
		UPDATE cache_entries SET last_access = $2, access_count = $3
		WHERE sample_id = $1`,
		sampleID, at, accessCount,
	)
	return err
}

// Delete removes an entry record.
func (s *CacheStatsDBStore) Delete(ctx context.Context, sampleID int64) error {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()
	_, err := s.conn.Exec(ctx, `DELETE FROM cache_entries WHERE sample_id = $1`, sampleID)
	return err
}

// List returns every stored entry record.
func (s *CacheStatsDBStore) List(ctx context.Context) ([]common.SampleCacheEntry, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT sample_id, genre_tag, size_bytes, access_count, last_access, fetched_at
		FROM cache_entries ORDER BY sample_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []common.SampleCacheEntry
	for rows.Next() {
		var entry common.SampleCacheEntry
		if err := rows.Scan(
			&entry.SampleID,
			&entry.GenreTag,
			&entry.SizeBytes,
			&entry.AccessCount,
			&entry.LastAccessTime,
			&entry.FetchedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GenreCounts aggregates access counts by genre tag.
func (s *CacheStatsDBStore) GenreCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT genre_tag, SUM(access_count) FROM cache_entries GROUP BY genre_tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var genre string
		var count int64
		if err := rows.Scan(&genre, &count); err != nil {
			return nil, err
		}
		counts[genre] = count
	}
	return counts, rows.Err()
}
