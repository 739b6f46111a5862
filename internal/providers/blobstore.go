package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LocalBlobStore implements BlobStore against a local directory tree. No
// object-storage SDK appears anywhere in the example pack this project was
// grounded on, so this ambient concern is implemented directly on os/io
// rather than inventing an ungrounded dependency; swapping in S3/GCS later
// only requires a new BlobStore implementation.
type LocalBlobStore struct {
	root        string
	audioURLFor func(videoID string) string
}

func NewLocalBlobStore(root string, audioURLFor func(videoID string) string) *LocalBlobStore {
	return &LocalBlobStore{root: root, audioURLFor: audioURLFor}
}

func (b *LocalBlobStore) AudioURL(_ context.Context, videoID string) (string, error) {
	if b.audioURLFor == nil {
		return "", fmt.Errorf("blobstore: no audio url resolver configured")
	}
	return b.audioURLFor(videoID), nil
}

// PutText writes text under the artifact naming convention spec section 6
// defines: "<video_id>_<YYYY-MM-DD>_<kind>.<ext>".
func (b *LocalBlobStore) PutText(_ context.Context, kind, videoID, text string) (string, error) {
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return "", fmt.Errorf("blobstore: mkdir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.txt", videoID, time.Now().UTC().Format("2006-01-02"), kind)
	path := filepath.Join(b.root, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("blobstore: write: %w", err)
	}
	return path, nil
}

func (b *LocalBlobStore) GetText(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("blobstore: read: %w", err)
	}
	return string(data), nil
}
