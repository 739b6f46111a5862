// Package chunk implements the token-aware windowing shared by the
// Summarize and Index stages (spec section 4.1's chunking configuration).
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Chunk is one overlapping window of source text.
type Chunk struct {
	Index          int
	Text           string
	ContentSHA256  string
}

// Options configures the windower. Defaults mirror SPEC_FULL.md's chunking
// config: 1000-token windows with 100 tokens of overlap.
type Options struct {
	MaxTokensPerChunk int
	OverlapTokens     int
}

func DefaultOptions() Options {
	return Options{MaxTokensPerChunk: 1000, OverlapTokens: 100}
}

// approxTokensPerWord approximates GPT-style tokenization without pulling
// in a tokenizer dependency: ~0.75 words per token, i.e. ~1.33 tokens/word.
const approxTokensPerWord = 1.33

// Split windows text into overlapping chunks by word count, approximating
// the configured token budget. Each chunk's ContentSHA256 lets the Index
// stage detect unchanged chunks on reprocessing (spec section 4.1).
func Split(text string, opts Options) []Chunk {
	if opts.MaxTokensPerChunk <= 0 {
		opts = DefaultOptions()
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	maxWords := int(float64(opts.MaxTokensPerChunk) / approxTokensPerWord)
	if maxWords < 1 {
		maxWords = 1
	}
	overlapWords := int(float64(opts.OverlapTokens) / approxTokensPerWord)
	if overlapWords >= maxWords {
		overlapWords = maxWords - 1
	}
	if overlapWords < 0 {
		overlapWords = 0
	}
	stride := maxWords - overlapWords

	var chunks []Chunk
	for start, idx := 0, 0; start < len(words); start += stride {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		text := strings.Join(words[start:end], " ")
		sum := sha256.Sum256([]byte(text))
		chunks = append(chunks, Chunk{
			Index:         idx,
			Text:          text,
			ContentSHA256: hex.EncodeToString(sum[:]),
		})
		idx++
		if end == len(words) {
			break
		}
	}
	return chunks
}

// ID derives a stable chunk_id from a video ID and a 1-indexed chunk
// number, per domain.IndexRecord's "<video_id>_chunk_<n>" convention.
func ID(videoID string, index int) string {
	return videoID + "_chunk_" + strconv.Itoa(index+1)
}
