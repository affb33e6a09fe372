// Package batch orchestrates the prediction pipeline. It windows the
// variant list, fans sequence construction out to a worker pool, feeds
// each unit through the sequential model stage and aggregates per-unit
// outcomes into run statistics.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/seqfold/snpbatch/internal/snp"
)

// UnitKind distinguishes main variants from negative controls.
type UnitKind int

const (
	KindVariant UnitKind = iota
	KindControl
)

func (k UnitKind) String() string {
	if k == KindControl {
		return "control"
	}
	return "variant"
}

// Outcome classifies how one unit of work ended.
type Outcome int

const (
	// OutcomeComputed means at least one of the unit's sequences went
	// through the model.
	OutcomeComputed Outcome = iota
	// OutcomeCached means both predictions came from the cache, or the
	// unit was skipped as fully cached during a resumed run.
	OutcomeCached
	// OutcomeFailed means sequence construction or the model stage
	// returned an error.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComputed:
		return "computed"
	case OutcomeCached:
		return "cached"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Stats holds the running counts for one invocation. Variants and
// controls are tallied separately.
type Stats struct {
	Computed int
	Cached   int
	Failed   int

	ControlsComputed int
	ControlsCached   int
	ControlsFailed   int

	// RefMismatches counts variants whose reference-genome base at the
	// substitution position matched neither allele. Those variants are
	// still processed by construction.
	RefMismatches int
}

func (s *Stats) count(kind UnitKind, outcome Outcome) {
	switch {
	case kind == KindVariant && outcome == OutcomeComputed:
		s.Computed++
	case kind == KindVariant && outcome == OutcomeCached:
		s.Cached++
	case kind == KindVariant && outcome == OutcomeFailed:
		s.Failed++
	case kind == KindControl && outcome == OutcomeComputed:
		s.ControlsComputed++
	case kind == KindControl && outcome == OutcomeCached:
		s.ControlsCached++
	case kind == KindControl && outcome == OutcomeFailed:
		s.ControlsFailed++
	}
}

// Event is one progress notification from the controller. The pipeline
// emits events; a presentation layer decides how to render them.
type Event struct {
	Kind    UnitKind
	Outcome Outcome
	ID      string

	// Processed counts variants handled so far, controls excluded.
	Processed int
	Total     int

	Stats Stats
}

// Observer receives progress events. A nil observer disables them.
type Observer func(Event)

// Report is the final, possibly partial, result of one Process call.
type Report struct {
	Stats Stats

	// Total is the number of variants selected after filtering and
	// windowing. Processed can be lower when the run was interrupted.
	Total     int
	Processed int

	Interrupted bool
	Elapsed     time.Duration
}

// ControlRecord ties a negative control back to its source variant.
type ControlRecord struct {
	OriginalID string
	Chrom      string
	Pos        int64
	// RefBase is the reference-genome base observed at the shifted
	// position.
	RefBase   string
	Effect    string
	NonEffect string
}

// ID returns the control's own identifier, derived from the source
// variant's.
func (c *ControlRecord) ID() string {
	return c.OriginalID + "_control"
}

// RecordWriter receives one record per successfully processed unit, in
// processing order. The VCF writer implements it.
type RecordWriter interface {
	WriteVariant(rec *snp.Record) error
	WriteControl(ctrl *ControlRecord) error
}

// Unit is the provenance row for one processed unit of work.
type Unit struct {
	Kind         UnitKind
	ID           string
	Chrom        string
	Pos          int64
	Outcome      Outcome
	RefBase      string
	RefMatch     bool
	EffectKey    string
	NonEffectKey string
	WindowKey    string
	Err          string
}

// Recorder persists processed units for later inspection. The DuckDB
// ledger implements it.
type Recorder interface {
	RecordUnit(ctx context.Context, u Unit) error
}
