package sequence

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/seqfold/snpbatch/internal/genome"
	"github.com/seqfold/snpbatch/internal/snp"
)

// BuildError reports a failed sequence construction for one unit of
// work. It carries the variant identifier so the failure can be counted
// and logged without aborting the batch.
type BuildError struct {
	VariantID string
	Err       error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build sequences for %s: %v", e.VariantID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Result is the sequence pair built for one variant or control, plus
// what was observed at the substitution site.
type Result struct {
	Window    Window
	Effect    string // window with the effect allele substituted
	NonEffect string // window with the non-effect allele substituted
	RefBase   string // reference base observed at the window center
	RefMatch  bool   // whether RefBase equals either allele (SNVs only)
}

// Builder derives windows and sequence pairs from variant records.
// Both sequences of a pair come from the same retrieved window, so they
// differ by at most the substituted span.
type Builder struct {
	src    genome.Source
	genome string
	length int64
	logger *zap.Logger
}

// NewBuilder creates a builder fetching from src for the given genome
// build. The window length must be positive and even.
func NewBuilder(src genome.Source, genomeBuild string, length int64) (*Builder, error) {
	if length <= 0 || length%2 != 0 {
		return nil, fmt.Errorf("window length must be positive and even, got %d", length)
	}
	return &Builder{src: src, genome: genomeBuild, length: length, logger: zap.NewNop()}, nil
}

// SetLogger sets the logger used for build diagnostics.
func (b *Builder) SetLogger(logger *zap.Logger) {
	b.logger = logger
}

// Length returns the configured window length.
func (b *Builder) Length() int64 {
	return b.length
}

// Build retrieves the reference window centered on rec.Pos+offset and
// substitutes each allele at the center index. The offset is nonzero
// only for negative controls. A reference base matching neither allele
// is not an error: assignment is by construction, and the mismatch is
// reported on the Result for the caller to count.
func (b *Builder) Build(ctx context.Context, rec *snp.Record, offset int64) (*Result, error) {
	center := rec.Pos + offset
	chrom := genome.NormalizeChrom(rec.Chrom)
	w := WindowAround(b.genome, chrom, center, b.length)

	ref, err := b.src.Fetch(ctx, chrom, w.Start, w.End)
	if err != nil {
		return nil, &BuildError{VariantID: rec.ID, Err: err}
	}
	if int64(len(ref)) != b.length {
		return nil, &BuildError{VariantID: rec.ID,
			Err: fmt.Errorf("source returned %d bases for a %d-base window", len(ref), b.length)}
	}
	ref = strings.ToUpper(ref)

	idx := b.length / 2 // center - w.Start
	effect, err := substitute(ref, idx, rec.Effect)
	if err != nil {
		return nil, &BuildError{VariantID: rec.ID, Err: err}
	}
	nonEffect, err := substitute(ref, idx, rec.NonEffect)
	if err != nil {
		return nil, &BuildError{VariantID: rec.ID, Err: err}
	}

	refBase := string(ref[idx])
	res := &Result{
		Window:    w,
		Effect:    effect,
		NonEffect: nonEffect,
		RefBase:   refBase,
		RefMatch:  refMatches(refBase, rec),
	}
	if !res.RefMatch {
		b.logger.Debug("reference base matches neither allele",
			zap.String("id", rec.ID),
			zap.String("ref", refBase),
			zap.String("effect", rec.Effect),
			zap.String("non_effect", rec.NonEffect))
	}
	return res, nil
}

// substitute replaces len(allele) bases at idx, keeping total length.
func substitute(seq string, idx int64, allele string) (string, error) {
	if idx+int64(len(allele)) > int64(len(seq)) {
		return "", fmt.Errorf("allele %s does not fit at window offset %d", allele, idx)
	}
	return seq[:idx] + allele + seq[idx+int64(len(allele)):], nil
}

// refMatches reports whether the observed reference base equals either
// tested allele. Indel pairs are not checked.
func refMatches(refBase string, rec *snp.Record) bool {
	if rec.IsIndel() {
		return true
	}
	return refBase == rec.Effect || refBase == rec.NonEffect
}
