package batch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqfold/snpbatch/internal/cache"
	"github.com/seqfold/snpbatch/internal/genome"
	"github.com/seqfold/snpbatch/internal/predict"
	"github.com/seqfold/snpbatch/internal/sequence"
	"github.com/seqfold/snpbatch/internal/snp"
)

// patternSource serves a deterministic genome where the base at
// position p is "ACGT"[(p+p/64)%4]. The pattern shifts by one every 64
// bases, so equal-length windows at different starts never repeat and
// every variant gets its own sequence content. Fetches outside
// [0, chromEnd) fail when chromEnd is set.
type patternSource struct {
	chromEnd int64
	calls    atomic.Int64
}

func (s *patternSource) Fetch(_ context.Context, chrom string, start, end int64) (string, error) {
	s.calls.Add(1)
	if start < 0 || (s.chromEnd > 0 && end > s.chromEnd) {
		return "", &genome.FetchError{
			Chrom: chrom, Start: start, End: end,
			Err: errors.New("coordinates out of range"),
		}
	}
	var b strings.Builder
	b.Grow(int(end - start))
	for p := start; p < end; p++ {
		b.WriteByte("ACGT"[(p+p/64)%4])
	}
	return b.String(), nil
}

// fakePredictor returns a deterministic prediction per sequence. It can
// be told to fail on one specific call; the model stage is sequential,
// so call numbers are deterministic.
type fakePredictor struct {
	calls    atomic.Int64
	failCall int64
	onCall   func(n int64)
}

func (p *fakePredictor) Predict(_ context.Context, seq string) (*predict.Prediction, error) {
	n := p.calls.Add(1)
	if p.onCall != nil {
		p.onCall(n)
	}
	if p.failCall != 0 && n == p.failCall {
		return nil, &predict.ModelError{Err: errors.New("model out of memory")}
	}
	var sum float32
	for _, b := range []byte(seq) {
		sum += float32(b)
	}
	return &predict.Prediction{
		Human: [][]float32{{sum}},
		Mouse: [][]float32{{sum}},
	}, nil
}

type collectWriter struct {
	variants   []*snp.Record
	controls   []*ControlRecord
	variantErr error
}

func (w *collectWriter) WriteVariant(rec *snp.Record) error {
	if w.variantErr != nil {
		return w.variantErr
	}
	w.variants = append(w.variants, rec)
	return nil
}

func (w *collectWriter) WriteControl(ctrl *ControlRecord) error {
	w.controls = append(w.controls, ctrl)
	return nil
}

type collectRecorder struct {
	units     []Unit
	failFirst bool
	called    int
}

func (r *collectRecorder) RecordUnit(_ context.Context, u Unit) error {
	r.called++
	if r.failFirst && r.called == 1 {
		return errors.New("ledger unavailable")
	}
	r.units = append(r.units, u)
	return nil
}

type testRig struct {
	source    *patternSource
	predictor *fakePredictor
	store     *cache.Store
	builder   *sequence.Builder
	runner    *predict.Runner
}

func newRig(t *testing.T, cacheDir string, length int64) *testRig {
	t.Helper()

	store, err := cache.NewStore(filepath.Join(cacheDir, "model"))
	require.NoError(t, err)

	src := &patternSource{}
	builder, err := sequence.NewBuilder(src, "hg19", length)
	require.NoError(t, err)

	pred := &fakePredictor{}
	return &testRig{
		source:    src,
		predictor: pred,
		store:     store,
		builder:   builder,
		runner:    predict.NewRunner(pred, store),
	}
}

// testRecord returns an A/G test variant at pos on chr19.
func testRecord(id string, pos int64) *snp.Record {
	return &snp.Record{
		Chrom:     "chr19",
		Pos:       pos,
		ID:        id,
		Effect:    "A",
		NonEffect: "G",
		Beta:      "0.1",
		SE:        "0.05",
		P:         "1e-8",
	}
}

func TestController_ProcessComputesAll(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 2})

	writer := &collectWriter{}
	ctrl.SetRecordWriter(writer)

	records := []*snp.Record{
		testRecord("rs1", 100),
		testRecord("rs2", 200),
		testRecord("rs3", 300),
	}

	report, err := ctrl.Process(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 3, report.Stats.Computed)
	assert.Equal(t, 0, report.Stats.Cached)
	assert.Equal(t, 0, report.Stats.Failed)
	assert.False(t, report.Interrupted)

	// Two model calls per variant, one per allele sequence.
	assert.Equal(t, int64(6), rig.predictor.calls.Load())

	require.Len(t, writer.variants, 3)
	assert.Equal(t, "rs1", writer.variants[0].ID)
	assert.Equal(t, "rs2", writer.variants[1].ID)
	assert.Equal(t, "rs3", writer.variants[2].ID)
}

func TestController_SecondRunFullyCached(t *testing.T) {
	dir := t.TempDir()
	records := []*snp.Record{testRecord("rs1", 100), testRecord("rs2", 200)}

	rig := newRig(t, dir, 64)
	_, err := NewController(rig.builder, rig.runner, Config{Workers: 1}).
		Process(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, int64(4), rig.predictor.calls.Load())

	// Same cache directory, fresh everything else, no resume flag.
	rig2 := newRig(t, dir, 64)
	report, err := NewController(rig2.builder, rig2.runner, Config{Workers: 1}).
		Process(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Stats.Cached)
	assert.Equal(t, 0, report.Stats.Computed)
	assert.Equal(t, int64(0), rig2.predictor.calls.Load(), "cached run must not call the model")
}

func TestController_ResumeSkipsModelStage(t *testing.T) {
	dir := t.TempDir()
	records := []*snp.Record{testRecord("rs1", 100), testRecord("rs2", 200)}

	rig := newRig(t, dir, 64)
	_, err := NewController(rig.builder, rig.runner, Config{Workers: 1}).
		Process(context.Background(), records)
	require.NoError(t, err)

	rig2 := newRig(t, dir, 64)
	ctrl := NewController(rig2.builder, rig2.runner, Config{Workers: 1, Resume: true})

	report, err := ctrl.Process(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Stats.Cached)
	assert.Equal(t, 0, report.Stats.Computed)
	assert.Equal(t, 0, report.Stats.Failed)
	assert.Equal(t, int64(0), rig2.predictor.calls.Load())
}

func TestController_ResumeRunsIncompleteUnits(t *testing.T) {
	dir := t.TempDir()
	rig := newRig(t, dir, 64)

	// Nothing cached yet, so resume classification falls through and
	// every unit runs the model.
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1, Resume: true})
	report, err := ctrl.Process(context.Background(), []*snp.Record{testRecord("rs1", 100)})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.Computed)
	assert.Equal(t, int64(2), rig.predictor.calls.Load())
}

func TestController_PartialFailureIsolation(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 2})

	writer := &collectWriter{}
	ctrl.SetRecordWriter(writer)

	// rs_bad's window starts before the chromosome and fails to build.
	records := []*snp.Record{
		testRecord("rs1", 100),
		testRecord("rs_bad", 10),
		testRecord("rs3", 300),
	}

	report, err := ctrl.Process(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Stats.Computed)
	assert.Equal(t, 1, report.Stats.Failed)
	assert.Equal(t, 3, report.Processed)

	require.Len(t, writer.variants, 2)
	assert.Equal(t, "rs1", writer.variants[0].ID)
	assert.Equal(t, "rs3", writer.variants[1].ID)
}

func TestController_ModelFailureCountsUnit(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	// Sequential stage: calls 1-2 are rs1, calls 3-4 are rs2.
	rig.predictor.failCall = 3

	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1})
	report, err := ctrl.Process(context.Background(), []*snp.Record{
		testRecord("rs1", 100),
		testRecord("rs2", 200),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.Computed)
	assert.Equal(t, 1, report.Stats.Failed)
}

func TestController_ControlsTalliedSeparately(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1, ControlOffset: 40})

	writer := &collectWriter{}
	recorder := &collectRecorder{}
	ctrl.SetRecordWriter(writer)
	ctrl.SetRecorder(recorder)

	report, err := ctrl.Process(context.Background(), []*snp.Record{testRecord("rs1", 100)})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.Computed)
	assert.Equal(t, 1, report.Stats.ControlsComputed)
	assert.Equal(t, int64(4), rig.predictor.calls.Load())

	require.Len(t, writer.controls, 1)
	got := writer.controls[0]
	assert.Equal(t, "rs1_control", got.ID())
	assert.Equal(t, int64(140), got.Pos)
	assert.Equal(t, "A", got.Effect)
	assert.Equal(t, "G", got.NonEffect)
	// Pattern genome: position 140 holds 'G'.
	assert.Equal(t, "G", got.RefBase)

	require.Len(t, recorder.units, 2)
	assert.Equal(t, KindVariant, recorder.units[0].Kind)
	assert.Equal(t, KindControl, recorder.units[1].Kind)
	assert.Equal(t, "rs1_control", recorder.units[1].ID)
}

func TestController_ControlFailureLeavesVariantIntact(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	// Main window [68, 132) fits; control window [1068, 1132) does not.
	rig.source.chromEnd = 200

	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1, ControlOffset: 1000})

	writer := &collectWriter{}
	ctrl.SetRecordWriter(writer)

	report, err := ctrl.Process(context.Background(), []*snp.Record{testRecord("rs1", 100)})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.Computed)
	assert.Equal(t, 0, report.Stats.Failed)
	assert.Equal(t, 1, report.Stats.ControlsFailed)

	assert.Len(t, writer.variants, 1)
	assert.Empty(t, writer.controls)
}

func TestController_RefMismatchCountedNotFatal(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1})

	writer := &collectWriter{}
	ctrl.SetRecordWriter(writer)

	// Position 102 holds 'T' in the pattern genome, matching neither
	// allele. The variant still processes by construction.
	report, err := ctrl.Process(context.Background(), []*snp.Record{testRecord("rs_mm", 102)})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.RefMismatches)
	assert.Equal(t, 1, report.Stats.Computed)
	assert.Len(t, writer.variants, 1)
}

func TestController_SkipAndLimitWindow(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1, Skip: 1, Limit: 2})

	writer := &collectWriter{}
	ctrl.SetRecordWriter(writer)

	records := []*snp.Record{
		testRecord("rs0", 100),
		testRecord("rs1", 200),
		testRecord("rs2", 300),
		testRecord("rs3", 400),
		testRecord("rs4", 500),
	}

	report, err := ctrl.Process(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	require.Len(t, writer.variants, 2)
	assert.Equal(t, "rs1", writer.variants[0].ID)
	assert.Equal(t, "rs2", writer.variants[1].ID)
}

func TestController_SkipBeyondEnd(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1, Skip: 10})

	report, err := ctrl.Process(context.Background(), []*snp.Record{testRecord("rs1", 100)})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, int64(0), rig.predictor.calls.Load())
}

func TestController_FilterIndelsBeforeWindowing(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{
		Workers: 1, FilterIndels: true, Skip: 1, Limit: 2,
	})

	writer := &collectWriter{}
	ctrl.SetRecordWriter(writer)

	indel := testRecord("rs_indel", 200)
	indel.Effect = "AT"

	records := []*snp.Record{
		testRecord("rs0", 100),
		indel,
		testRecord("rs2", 300),
		testRecord("rs3", 400),
	}

	// Filtering drops the indel first, then skip and limit select from
	// what remains.
	report, err := ctrl.Process(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	require.Len(t, writer.variants, 2)
	assert.Equal(t, "rs2", writer.variants[0].ID)
	assert.Equal(t, "rs3", writer.variants[1].ID)
}

func TestController_CancelBeforeStart(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := ctrl.Process(ctx, []*snp.Record{testRecord("rs1", 100)})
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.Equal(t, 0, report.Processed)
}

func TestController_CancelMidRunFinishesInFlightCall(t *testing.T) {
	dir := t.TempDir()
	rig := newRig(t, dir, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel while rs1's first sequence is inside the model. That call
	// still completes and persists; no further call starts, not even
	// the pair's second sequence.
	rig.predictor.onCall = func(n int64) {
		if n == 1 {
			cancel()
		}
	}

	records := []*snp.Record{
		testRecord("rs1", 100),
		testRecord("rs2", 200),
		testRecord("rs3", 300),
	}

	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1})
	report, err := ctrl.Process(ctx, records)
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.Equal(t, int64(1), rig.predictor.calls.Load(),
		"no new model call may start after cancellation")
	assert.Equal(t, 0, report.Processed, "a variant stopped mid-pair is not handled")
	assert.Equal(t, 0, report.Stats.Computed)
	assert.Equal(t, 0, report.Stats.Failed)

	// The in-flight call's prediction was persisted before the stop.
	entries, err := rig.store.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// A follow-up run picks up losslessly: one cache hit for the
	// finished sequence, five computes for the rest.
	rig2 := newRig(t, dir, 64)
	report2, err := NewController(rig2.builder, rig2.runner, Config{Workers: 1}).
		Process(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 3, report2.Stats.Computed)
	assert.Equal(t, int64(5), rig2.predictor.calls.Load())
}

func TestController_CancelWithControlsSubmitsNoNewCalls(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig.predictor.onCall = func(n int64) {
		if n == 1 {
			cancel()
		}
	}

	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1, ControlOffset: 17})
	report, err := ctrl.Process(ctx, []*snp.Record{
		testRecord("rs1", 100),
		testRecord("rs2", 200),
	})
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.Equal(t, int64(1), rig.predictor.calls.Load(),
		"neither the pair's second sequence nor the control may start")
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 0, report.Stats.ControlsComputed)
	assert.Equal(t, 0, report.Stats.ControlsFailed)
}

func TestController_CancelBetweenVariantAndControl(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel during the pair's second call: the variant finishes and
	// counts, its control never starts.
	rig.predictor.onCall = func(n int64) {
		if n == 2 {
			cancel()
		}
	}

	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1, ControlOffset: 17})
	report, err := ctrl.Process(ctx, []*snp.Record{testRecord("rs1", 100)})
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.Equal(t, int64(2), rig.predictor.calls.Load())
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Stats.Computed)
	assert.Equal(t, 0, report.Stats.ControlsComputed)
}

func TestController_WriterErrorAborts(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1})

	ctrl.SetRecordWriter(&collectWriter{variantErr: errors.New("disk full")})

	_, err := ctrl.Process(context.Background(), []*snp.Record{testRecord("rs1", 100)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write variant record")
}

func TestController_RecorderFailureDegrades(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1})

	recorder := &collectRecorder{failFirst: true}
	ctrl.SetRecorder(recorder)

	report, err := ctrl.Process(context.Background(), []*snp.Record{
		testRecord("rs1", 100),
		testRecord("rs2", 200),
	})
	require.NoError(t, err)

	// The run completes; the ledger is dropped after its first failure.
	assert.Equal(t, 2, report.Stats.Computed)
	assert.Equal(t, 1, recorder.called)
	assert.Empty(t, recorder.units)
}

func TestController_EmitsOrderedEvents(t *testing.T) {
	rig := newRig(t, t.TempDir(), 64)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 2, ControlOffset: 40})

	var events []Event
	ctrl.SetObserver(func(e Event) {
		events = append(events, e)
	})

	report, err := ctrl.Process(context.Background(), []*snp.Record{
		testRecord("rs1", 100),
		testRecord("rs2", 200),
	})
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, KindVariant, events[0].Kind)
	assert.Equal(t, KindControl, events[1].Kind)
	assert.Equal(t, "rs1", events[0].ID)
	assert.Equal(t, "rs1_control", events[1].ID)
	assert.Equal(t, 1, events[0].Processed)
	assert.Equal(t, 2, events[2].Processed)
	assert.Equal(t, 2, events[0].Total)

	final := events[len(events)-1]
	assert.Equal(t, report.Stats, final.Stats)
}

func TestController_FullWindowExample(t *testing.T) {
	rig := newRig(t, t.TempDir(), sequence.DefaultLength)
	ctrl := NewController(rig.builder, rig.runner, Config{Workers: 1, ControlOffset: 5000})

	writer := &collectWriter{}
	recorder := &collectRecorder{}
	ctrl.SetRecordWriter(writer)
	ctrl.SetRecorder(recorder)

	report, err := ctrl.Process(context.Background(), []*snp.Record{testRecord("rs12459", 45387459)})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.Computed)
	assert.Equal(t, 1, report.Stats.ControlsComputed)

	require.Len(t, recorder.units, 2)
	main := recorder.units[0]
	assert.Equal(t, "hg19__chr19_45289155_45485763", main.WindowKey)
	assert.Len(t, main.EffectKey, 64)
	assert.NotEqual(t, main.EffectKey, main.NonEffectKey)

	require.Len(t, writer.controls, 1)
	got := writer.controls[0]
	assert.Equal(t, "rs12459_control", got.ID())
	assert.Equal(t, int64(45392459), got.Pos)
	assert.Equal(t, "hg19__chr19_45294155_45490763", recorder.units[1].WindowKey)
}
