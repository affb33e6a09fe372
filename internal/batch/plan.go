package batch

// Action is the result of classifying one unit against the prediction
// cache before any model work happens.
type Action int

const (
	// ActionRun sends both of the unit's sequences through the model
	// runner, which still resolves each one against the cache.
	ActionRun Action = iota
	// ActionSkipCached counts the unit as fully cached without touching
	// the model stage.
	ActionSkipCached
)

// Classify decides whether a unit's model stage can be skipped. Only a
// resumed run skips: all of the unit's sequences must already have a
// cached prediction. cached answers existence checks and is injected so
// the decision is testable without a store.
func Classify(resume bool, cached func(sequence string) bool, sequences ...string) Action {
	if !resume {
		return ActionRun
	}
	for _, seq := range sequences {
		if !cached(seq) {
			return ActionRun
		}
	}
	return ActionSkipCached
}
