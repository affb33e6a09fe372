package output

import (
	"fmt"
	"io"

	"github.com/seqfold/snpbatch/internal/batch"
)

// ProgressRenderer prints a single in-place progress line from pipeline
// events, rewriting it with carriage returns.
type ProgressRenderer struct {
	w     io.Writer
	every int
	wrote bool
}

// NewProgressRenderer renders to w once per every processed variants.
// Values below one render every variant.
func NewProgressRenderer(w io.Writer, every int) *ProgressRenderer {
	if every < 1 {
		every = 1
	}
	return &ProgressRenderer{w: w, every: every}
}

// Observe is a batch.Observer. A control event follows its variant with
// the same processed count, so it redraws the same line with the
// updated tallies.
func (pr *ProgressRenderer) Observe(e batch.Event) {
	if e.Processed%pr.every != 0 && e.Processed != e.Total {
		return
	}

	pct := 0.0
	if e.Total > 0 {
		pct = float64(e.Processed) / float64(e.Total) * 100
	}
	fmt.Fprintf(pr.w, "\r  %d/%d (%.1f%%) snp_new=%d snp_cache=%d ctrl_new=%d failed=%d",
		e.Processed, e.Total, pct,
		e.Stats.Computed, e.Stats.Cached, e.Stats.ControlsComputed, e.Stats.Failed)
	pr.wrote = true
}

// Finish terminates the progress line if anything was rendered.
func (pr *ProgressRenderer) Finish() {
	if pr.wrote {
		fmt.Fprintln(pr.w)
	}
}
