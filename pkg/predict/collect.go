package predict

import (
	"cardlearn/pkg/plan"
	"cardlearn/pkg/samplelog"
	"cardlearn/pkg/trainbuf"
)

// CollectActualCardinalities walks a finished physical plan, emits one
// training sample per tracked operator that produced a prediction or rows,
// then triggers an incremental model update on the tail window of the
// buffer. Called once per query, after execution completes.
func (i *Interface) CollectActualCardinalities(root *plan.PhysicalOperator, queryID uint64) {
	if root == nil {
		return
	}
	// A result collector wraps the actual plan; unwrap it.
	actual := root
	if actual.Kind == plan.PhysResultCollector && len(actual.Children) == 1 {
		actual = actual.Children[0]
	}

	var logEntries []samplelog.Entry
	actual.Walk(func(op *plan.PhysicalOperator) {
		state := op.Learn
		if state == nil || !state.HasPrediction {
			return
		}
		actualCard := state.GetActualCardinality()
		if actualCard == 0 && state.Predicted == 0 {
			return
		}
		if !state.MarkCollected() {
			return
		}

		i.buffer.AddSample(state.Features, actualCard, state.Predicted)

		modelQ := trainbuf.QError(actualCard, state.Predicted)
		engineQ := trainbuf.QError(actualCard, state.EngineEstimate)
		i.stats.RecordSample(modelQ, engineQ)

		if i.samples != nil {
			logEntries = append(logEntries, samplelog.Entry{
				QueryID:        queryID,
				Operator:       op.Kind.String(),
				Actual:         actualCard,
				Predicted:      state.Predicted,
				EngineEstimate: state.EngineEstimate,
				QError:         modelQ,
				EngineQError:   engineQ,
			})
		}
	})

	if i.samples != nil && len(logEntries) > 0 {
		// Failures here must not disturb collection or training.
		_ = i.samples.Append(logEntries)
	}

	recent := i.buffer.GetRecentSamples(i.window)
	if len(recent) >= i.minTrain {
		i.model.UpdateIncremental(recent)
		i.stats.TrainingUpdates.Add(1)
	}
}
