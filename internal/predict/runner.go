package predict

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/seqfold/snpbatch/internal/cache"
)

// Source tells where a prediction came from.
type Source int

const (
	// SourceComputed means the model was invoked for this sequence.
	SourceComputed Source = iota
	// SourceCache means the prediction was loaded from the store.
	SourceCache
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceComputed:
		return "computed"
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// Runner is the cache-aware model runner. Run computes or loads the
// prediction for a sequence, keyed by its content hash, which makes
// repeat calls across process restarts idempotent.
//
// Run is not safe for concurrent use: the model stage is strictly
// sequential by design, so no in-process deduplication is needed.
type Runner struct {
	predictor Predictor
	store     *cache.Store
	logger    *zap.Logger
	disabled  bool // persistence off after the first write failure
}

// NewRunner creates a runner over the prediction store.
func NewRunner(predictor Predictor, store *cache.Store) *Runner {
	return &Runner{predictor: predictor, store: store, logger: zap.NewNop()}
}

// SetLogger sets the logger used for cache warnings.
func (r *Runner) SetLogger(logger *zap.Logger) {
	r.logger = logger
}

// Cached reports whether a prediction for sequence is already stored.
// It never reads the payload.
func (r *Runner) Cached(sequence string) bool {
	return r.store.Exists(cache.SequenceKey(sequence))
}

// Run returns the prediction for sequence and where it came from. On a
// cache miss the model runs exactly once, under a non-cancellable
// context: an interrupt must not abandon a computation that is already
// paid for. Persistence is best-effort; a write failure degrades to
// no-caching for the rest of the run and never invalidates the
// returned prediction.
func (r *Runner) Run(ctx context.Context, sequence string) (*Prediction, Source, error) {
	key := cache.SequenceKey(sequence)

	payload, err := r.store.Get(key)
	if err == nil {
		pred, derr := decodePrediction(payload)
		if derr == nil {
			return pred, SourceCache, nil
		}
		r.logger.Warn("undecodable cached prediction, recomputing",
			zap.String("key", key),
			zap.Error(derr))
	} else if !errors.Is(err, cache.ErrNotFound) {
		r.logger.Warn("unreadable cache entry, recomputing",
			zap.String("key", key),
			zap.Error(err))
	}

	pred, err := r.predictor.Predict(context.WithoutCancel(ctx), sequence)
	if err != nil {
		var modelErr *ModelError
		if !errors.As(err, &modelErr) {
			err = &ModelError{Err: err}
		}
		return nil, SourceComputed, err
	}

	r.persist(key, pred)
	return pred, SourceComputed, nil
}

func (r *Runner) persist(key string, pred *Prediction) {
	if r.disabled {
		return
	}
	payload, err := encodePrediction(pred)
	if err != nil {
		r.logger.Warn("cannot serialize prediction for caching",
			zap.String("key", key),
			zap.Error(err))
		return
	}
	if err := r.store.Put(key, payload); err != nil {
		r.disabled = true
		r.logger.Warn("prediction cache not writable, caching disabled for this run",
			zap.String("dir", r.store.Dir()),
			zap.Error(err))
	}
}
