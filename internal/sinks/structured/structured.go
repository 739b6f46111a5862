// Package structured implements the columnar retrieval sink over
// ClickHouse, used for exact-match and analytical retrieval queries that
// the vector and keyword sinks serve poorly.
package structured

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/autopiloot/corepipe/internal/sinks"
)

// Store implements sinks.StructuredSink.
type Store struct {
	conn driver.Conn
}

func New(addr, database, username, password string) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("structured: open clickhouse: %w", err)
	}
	return &Store{conn: conn}, nil
}

const createTableDDL = `
CREATE TABLE IF NOT EXISTS index_chunks (
    chunk_id String,
    video_id String,
    channel_id String,
    published_at DateTime,
    content String,
    content_sha256 String,
    inserted_at DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(inserted_at)
ORDER BY chunk_id
`

// EnsureTable creates the index_chunks table if it doesn't exist.
// ReplacingMergeTree keyed on chunk_id makes re-indexing an unchanged
// chunk a no-op after the next background merge.
func (s *Store) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, createTableDDL)
}

// Upsert implements sinks.StructuredSink.
func (s *Store) Upsert(ctx context.Context, records []sinks.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO index_chunks (chunk_id, video_id, channel_id, published_at, content, content_sha256)")
	if err != nil {
		return fmt.Errorf("structured: prepare batch: %w", err)
	}
	for _, r := range records {
		if err := batch.Append(r.ChunkID, r.VideoID, r.ChannelID, r.PublishedAt, r.Text, r.ContentSHA256); err != nil {
			return fmt.Errorf("structured: append %s: %w", r.ChunkID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("structured: send batch: %w", err)
	}
	return nil
}

// Search implements sinks.StructuredSink with an exact video_id lookup.
func (s *Store) Search(ctx context.Context, videoID string, topK int) ([]sinks.SearchHit, error) {
	rows, err := s.conn.Query(ctx, `
SELECT chunk_id, video_id, channel_id, published_at, content FROM index_chunks
WHERE video_id = ?
ORDER BY chunk_id
LIMIT ?`, videoID, topK)
	if err != nil {
		return nil, fmt.Errorf("structured: query: %w", err)
	}
	defer rows.Close()

	var hits []sinks.SearchHit
	for rows.Next() {
		var h sinks.SearchHit
		if err := rows.Scan(&h.ChunkID, &h.VideoID, &h.ChannelID, &h.PublishedAt, &h.Text); err != nil {
			return nil, fmt.Errorf("structured: scan: %w", err)
		}
		h.Score = 1.0
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
