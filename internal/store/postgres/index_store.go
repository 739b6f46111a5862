package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopiloot/corepipe/internal/domain"
)

// IndexRecordStore implements store.IndexRecordStore. It tracks the same
// chunk_id/content_sha256 pairs the structured sink holds, giving the Index
// worker a fast idempotency check without round-tripping to ClickHouse on
// every run.
type IndexRecordStore struct {
	pool *pgxpool.Pool
}

func NewIndexRecordStore(pool *pgxpool.Pool) *IndexRecordStore {
	return &IndexRecordStore{pool: pool}
}

func (s *IndexRecordStore) ExistingChunkIDs(ctx context.Context, videoID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT chunk_id, content_sha256 FROM index_records WHERE video_id = $1`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var chunkID, sha string
		if err := rows.Scan(&chunkID, &sha); err != nil {
			return nil, err
		}
		out[chunkID] = sha
	}
	return out, rows.Err()
}

func (s *IndexRecordStore) PutIndexRecords(ctx context.Context, records []domain.IndexRecord) error {
	const q = `
INSERT INTO index_records (video_id, chunk_id, token_count, content_sha256, text_preview, channel_id, published_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (video_id, chunk_id) DO UPDATE SET
    token_count = EXCLUDED.token_count,
    content_sha256 = EXCLUDED.content_sha256,
    text_preview = EXCLUDED.text_preview,
    published_at = EXCLUDED.published_at`
	for _, r := range records {
		if _, err := s.pool.Exec(ctx, q, r.VideoID, r.ChunkID, r.TokenCount, r.ContentSHA256, r.TextPreview, r.ChannelID, r.PublishedAt); err != nil {
			return err
		}
	}
	return nil
}
