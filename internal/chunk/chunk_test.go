package chunk_test

import (
	"strings"
	"testing"

	"github.com/autopiloot/corepipe/internal/chunk"
)

func TestSplitProducesOverlappingWindows(t *testing.T) {
	words := make([]string, 0, 3000)
	for i := 0; i < 3000; i++ {
		words = append(words, "word")
	}
	text := strings.Join(words, " ")

	chunks := chunk.Split(text, chunk.Options{MaxTokensPerChunk: 1000, OverlapTokens: 100})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("expected contiguous 0-indexed chunks, chunk %d has index %d", i, c.Index)
		}
		if c.ContentSHA256 == "" {
			t.Fatalf("expected chunk %d to have a content hash", i)
		}
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog " + strings.Repeat("word ", 500)
	a := chunk.Split(text, chunk.DefaultOptions())
	b := chunk.Split(text, chunk.DefaultOptions())
	if len(a) != len(b) {
		t.Fatalf("expected identical chunk counts across runs, got %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ContentSHA256 != b[i].ContentSHA256 {
			t.Fatalf("expected identical hash at chunk %d across runs", i)
		}
	}
}

func TestSplitEmptyTextYieldsNoChunks(t *testing.T) {
	if chunks := chunk.Split("   ", chunk.DefaultOptions()); len(chunks) != 0 {
		t.Fatalf("expected no chunks for blank text, got %d", len(chunks))
	}
}

func TestIDFormat(t *testing.T) {
	if got := chunk.ID("vidA", 0); got != "vidA_chunk_1" {
		t.Fatalf("expected 1-indexed chunk id, got %q", got)
	}
	if got := chunk.ID("vidA", 4); got != "vidA_chunk_5" {
		t.Fatalf("expected vidA_chunk_5, got %q", got)
	}
}
