package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seqfold/snpbatch/internal/cache"
	"github.com/seqfold/snpbatch/internal/predict"
	"github.com/seqfold/snpbatch/internal/sequence"
	"github.com/seqfold/snpbatch/internal/snp"
)

// Config holds the selection and policy knobs for one Process call.
type Config struct {
	// Skip drops the first N records after filtering.
	Skip int
	// Limit caps how many records are processed after Skip. Zero means
	// the remainder of the list.
	Limit int
	// Workers sizes the sequence-construction pool. Zero or negative
	// means DefaultWorkers.
	Workers int
	// FilterIndels drops records with a multi-base allele before Skip
	// and Limit are applied.
	FilterIndels bool
	// Resume skips the model stage for units whose predictions are all
	// cached already.
	Resume bool
	// ControlOffset shifts each variant's position to derive a negative
	// control. Zero disables controls.
	ControlOffset int64
}

// Controller drives the pipeline: select records, build sequences in
// parallel, run the model stage strictly sequentially and aggregate
// per-unit outcomes.
type Controller struct {
	builder *sequence.Builder
	runner  *predict.Runner
	cfg     Config

	// cached answers prediction-cache existence checks during resume
	// classification. Defaults to the runner's view of the cache.
	cached func(sequence string) bool

	writer   RecordWriter
	recorder Recorder
	observer Observer
	logger   *zap.Logger
}

func NewController(builder *sequence.Builder, runner *predict.Runner, cfg Config) *Controller {
	return &Controller{
		builder: builder,
		runner:  runner,
		cfg:     cfg,
		cached:  runner.Cached,
		logger:  zap.NewNop(),
	}
}

// SetLogger replaces the default no-op logger.
func (c *Controller) SetLogger(logger *zap.Logger) {
	c.logger = logger
}

// SetRecordWriter sets the destination for per-unit output records.
func (c *Controller) SetRecordWriter(w RecordWriter) {
	c.writer = w
}

// SetRecorder sets the provenance ledger. Ledger failures degrade the
// run to unrecorded rather than aborting it.
func (c *Controller) SetRecorder(r Recorder) {
	c.recorder = r
}

// SetObserver sets the progress event sink.
func (c *Controller) SetObserver(obs Observer) {
	c.observer = obs
}

// SetCachedFunc overrides the prediction-cache existence check used for
// resume classification.
func (c *Controller) SetCachedFunc(cached func(sequence string) bool) {
	c.cached = cached
}

// Process runs the pipeline over records. Cancelling ctx stops the run
// before any further model call and yields a partial report with
// Interrupted set; only the model call already in flight is finished
// and persisted. A pair stopped between its two calls stays incomplete
// and is picked up by a later run from the per-sequence cache. Per-unit
// failures are counted, not returned; the returned error is reserved
// for output-writer failures.
func (c *Controller) Process(ctx context.Context, records []*snp.Record) (*Report, error) {
	start := time.Now()

	selected := c.selectRecords(records)
	report := &Report{Total: len(selected)}

	workers := c.cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}

	items := make(chan BuildItem, 2*workers)
	go func() {
		defer close(items)
		for i, rec := range selected {
			select {
			case <-ctx.Done():
				return
			case items <- BuildItem{Seq: i, Rec: rec}:
			}
		}
	}()

	results := ParallelBuild(ctx, items, workers, c.buildUnit)

	err := OrderedCollect(results, func(r BuildResult) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return c.consume(ctx, r, report)
	})

	report.Elapsed = time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			report.Interrupted = true
			return report, nil
		}
		return report, err
	}
	if ctx.Err() != nil {
		report.Interrupted = true
	}
	return report, nil
}

// selectRecords applies indel filtering, then Skip, then Limit.
func (c *Controller) selectRecords(records []*snp.Record) []*snp.Record {
	selected := records
	if c.cfg.FilterIndels {
		selected = make([]*snp.Record, 0, len(records))
		for _, rec := range records {
			if !rec.IsIndel() {
				selected = append(selected, rec)
			}
		}
	}

	if c.cfg.Skip > 0 {
		if c.cfg.Skip >= len(selected) {
			return nil
		}
		selected = selected[c.cfg.Skip:]
	}
	if c.cfg.Limit > 0 && c.cfg.Limit < len(selected) {
		selected = selected[:c.cfg.Limit]
	}
	return selected
}

// buildUnit runs on the worker pool and constructs the main sequences
// and, when controls are enabled, the control sequences.
func (c *Controller) buildUnit(ctx context.Context, rec *snp.Record) BuildResult {
	var r BuildResult
	r.Main, r.MainErr = c.builder.Build(ctx, rec, 0)
	if c.cfg.ControlOffset != 0 {
		r.Control, r.ControlErr = c.builder.Build(ctx, rec, c.cfg.ControlOffset)
	}
	return r
}

// consume handles one ordered result: the main variant first, then its
// control. Runs on the collector goroutine only, so the model stage is
// strictly sequential. An interrupt between the two stages stops the
// unit before any control work.
func (c *Controller) consume(ctx context.Context, r BuildResult, report *Report) error {
	if err := c.processMain(ctx, r, report); err != nil {
		return err
	}
	if c.cfg.ControlOffset != 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return c.processControl(ctx, r, report)
	}
	return nil
}

func (c *Controller) processMain(ctx context.Context, r BuildResult, report *Report) error {
	rec := r.Rec

	if r.MainErr != nil {
		c.logger.Warn("failed to build sequences",
			zap.String("id", rec.ID),
			zap.String("chrom", rec.Chrom),
			zap.Int64("pos", rec.Pos),
			zap.Error(r.MainErr))
		c.finishUnit(ctx, report, Unit{
			Kind:    KindVariant,
			ID:      rec.ID,
			Chrom:   rec.Chrom,
			Pos:     rec.Pos,
			Outcome: OutcomeFailed,
			Err:     r.MainErr.Error(),
		})
		return nil
	}

	res := r.Main
	if !res.RefMatch {
		report.Stats.RefMismatches++
		c.logger.Warn("reference base matches neither allele",
			zap.String("id", rec.ID),
			zap.String("ref", res.RefBase),
			zap.String("effect", rec.Effect),
			zap.String("non_effect", rec.NonEffect))
	}

	outcome, err := c.runPair(ctx, res)
	if err != nil {
		// An interrupted pair stays incomplete and uncounted; a model
		// failure racing the interrupt still counts as failed.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		c.logger.Warn("model stage failed",
			zap.String("id", rec.ID),
			zap.Error(err))
		c.finishUnit(ctx, report, Unit{
			Kind:    KindVariant,
			ID:      rec.ID,
			Chrom:   rec.Chrom,
			Pos:     rec.Pos,
			Outcome: OutcomeFailed,
			Err:     err.Error(),
		})
		return nil
	}

	if c.writer != nil {
		if werr := c.writer.WriteVariant(rec); werr != nil {
			return fmt.Errorf("write variant record for %s: %w", rec.ID, werr)
		}
	}

	c.finishUnit(ctx, report, Unit{
		Kind:         KindVariant,
		ID:           rec.ID,
		Chrom:        rec.Chrom,
		Pos:          rec.Pos,
		Outcome:      outcome,
		RefBase:      res.RefBase,
		RefMatch:     res.RefMatch,
		EffectKey:    cache.SequenceKey(res.Effect),
		NonEffectKey: cache.SequenceKey(res.NonEffect),
		WindowKey:    cache.WindowKey(res.Window.Genome, res.Window.Chrom, res.Window.Start, res.Window.End),
	})
	return nil
}

func (c *Controller) processControl(ctx context.Context, r BuildResult, report *Report) error {
	rec := r.Rec
	ctrlPos := rec.Pos + c.cfg.ControlOffset
	ctrlID := rec.ID + "_control"

	if r.ControlErr != nil {
		c.logger.Warn("failed to build control sequences",
			zap.String("id", ctrlID),
			zap.String("chrom", rec.Chrom),
			zap.Int64("pos", ctrlPos),
			zap.Error(r.ControlErr))
		c.finishUnit(ctx, report, Unit{
			Kind:    KindControl,
			ID:      ctrlID,
			Chrom:   rec.Chrom,
			Pos:     ctrlPos,
			Outcome: OutcomeFailed,
			Err:     r.ControlErr.Error(),
		})
		return nil
	}

	res := r.Control
	outcome, err := c.runPair(ctx, res)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		c.logger.Warn("model stage failed for control",
			zap.String("id", ctrlID),
			zap.Error(err))
		c.finishUnit(ctx, report, Unit{
			Kind:    KindControl,
			ID:      ctrlID,
			Chrom:   rec.Chrom,
			Pos:     ctrlPos,
			Outcome: OutcomeFailed,
			Err:     err.Error(),
		})
		return nil
	}

	if c.writer != nil {
		ctrl := &ControlRecord{
			OriginalID: rec.ID,
			Chrom:      rec.Chrom,
			Pos:        ctrlPos,
			RefBase:    res.RefBase,
			Effect:     rec.Effect,
			NonEffect:  rec.NonEffect,
		}
		if werr := c.writer.WriteControl(ctrl); werr != nil {
			return fmt.Errorf("write control record for %s: %w", ctrlID, werr)
		}
	}

	c.finishUnit(ctx, report, Unit{
		Kind:         KindControl,
		ID:           ctrlID,
		Chrom:        rec.Chrom,
		Pos:          ctrlPos,
		Outcome:      outcome,
		RefBase:      res.RefBase,
		RefMatch:     res.RefMatch,
		EffectKey:    cache.SequenceKey(res.Effect),
		NonEffectKey: cache.SequenceKey(res.NonEffect),
		WindowKey:    cache.WindowKey(res.Window.Genome, res.Window.Chrom, res.Window.Start, res.Window.End),
	})
	return nil
}

// runPair resolves both sequences of one unit through the model stage.
// The unit counts as cached only when neither sequence needed the
// model. Cancellation is checked before each model call, so after an
// interrupt at most the call already in flight completes; a sequence
// computed before the stop stays cached for the next run.
func (c *Controller) runPair(ctx context.Context, res *sequence.Result) (Outcome, error) {
	if Classify(c.cfg.Resume, c.cached, res.Effect, res.NonEffect) == ActionSkipCached {
		return OutcomeCached, nil
	}

	if err := ctx.Err(); err != nil {
		return OutcomeFailed, err
	}
	_, effSrc, err := c.runner.Run(ctx, res.Effect)
	if err != nil {
		return OutcomeFailed, err
	}

	if err := ctx.Err(); err != nil {
		return OutcomeFailed, err
	}
	_, neffSrc, err := c.runner.Run(ctx, res.NonEffect)
	if err != nil {
		return OutcomeFailed, err
	}

	if effSrc == predict.SourceCache && neffSrc == predict.SourceCache {
		return OutcomeCached, nil
	}
	return OutcomeComputed, nil
}

// finishUnit tallies the outcome, records provenance and notifies the
// observer. Processed advances only here, so a variant abandoned
// mid-pair by an interrupt is not counted as handled.
func (c *Controller) finishUnit(ctx context.Context, report *Report, u Unit) {
	if u.Kind == KindVariant {
		report.Processed++
	}
	report.Stats.count(u.Kind, u.Outcome)

	if c.recorder != nil {
		if err := c.recorder.RecordUnit(ctx, u); err != nil {
			c.logger.Warn("failed to record unit, ledger disabled for this run",
				zap.String("id", u.ID),
				zap.Error(err))
			c.recorder = nil
		}
	}

	if c.observer != nil {
		c.observer(Event{
			Kind:      u.Kind,
			Outcome:   u.Outcome,
			ID:        u.ID,
			Processed: report.Processed,
			Total:     report.Total,
			Stats:     report.Stats,
		})
	}
}
