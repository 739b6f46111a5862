package workers

import (
	"crypto/sha256"
	"encoding/hex"
)

// contentDigest is the stable hash the transcribe worker stores on a
// Transcript; PutTranscript uses it to detect an unchanged artifact on
// reprocessing. Summaries carry no digest.
func contentDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
