package cache

import (
	"crypto/sha256"
	"fmt"
)

// SequenceKey derives the prediction-cache key for a sequence: the
// lowercase hex SHA-256 of its UTF-8 bytes. Identical sequence text
// always yields the identical key regardless of how the sequence was
// derived, which is what makes cross-run and cross-variant reuse safe.
func SequenceKey(sequence string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(sequence)))
}

// WindowKey derives the window-cache key for a retrieved reference
// window from its normalized coordinate descriptor. Window keys and
// sequence keys live in separate stores and cannot collide.
func WindowKey(genome, chrom string, start, end int64) string {
	return fmt.Sprintf("%s__%s_%d_%d", genome, chrom, start, end)
}
