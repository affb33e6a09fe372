// Package genome provides reference-sequence retrieval over 0-based
// half-open coordinates, from a local indexed FASTA file or a remote
// sequence API, with optional content-addressed window caching.
package genome

import (
	"context"
	"fmt"
	"strings"
)

// Source retrieves reference bases for a chromosome interval.
// Coordinates are 0-based half-open [start, end). Implementations
// return bases uppercased.
type Source interface {
	Fetch(ctx context.Context, chrom string, start, end int64) (string, error)
}

// FetchError reports a failed reference retrieval: an unknown
// chromosome, out-of-range coordinates, or an unreachable source.
type FetchError struct {
	Chrom string
	Start int64
	End   int64
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s:%d-%d: %v", e.Chrom, e.Start, e.End, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizeChrom returns the "chr"-prefixed form of a chromosome name.
// Summary-statistics files commonly carry bare names like "19".
func NormalizeChrom(chrom string) string {
	if strings.HasPrefix(chrom, "chr") {
		return chrom
	}
	return "chr" + chrom
}
