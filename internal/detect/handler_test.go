package detect

import (
	"context"
	"testing"

	"vigil-backend/internal/telemetry"
)

func newTestHandler(detector Detector, recorder telemetry.Recorder) (*StatefulHandler[testPayload], *StateStore) {
	store := newTestStateStore(newFakeStateRepo(), recorder)
	impl := &testEvaluator{counters: []string{"test1", "test2"}}
	return NewStatefulHandler[testPayload](detector, impl, store, testLogger(), recorder), store
}

func packet(dedupe int64, values ...GroupValue) DataPacket {
	return DataPacket{SourceID: "1", Payload: testPayload{Dedupe: dedupe, Values: values}}
}

func committedState(t *testing.T, store *StateStore, detectorID string, key GroupKey) StateData {
	t.Helper()
	states, err := store.GetStateData(context.Background(), detectorID, []GroupKey{key}, []string{"test1", "test2"})
	if err != nil {
		t.Fatalf("get state data failed: %v", err)
	}
	return states[key]
}

func TestEvaluateFirstTransition(t *testing.T) {
	recorder := telemetry.NewCaptureRecorder()
	detector := testDetector(Condition{Comparator: ComparatorGreaterOrEqual, Threshold: 0, ResultPriority: PriorityHigh})
	handler, store := newTestHandler(detector, recorder)

	results, err := handler.Evaluate(context.Background(), packet(1))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for packet without group values")
	}

	key := NewGroupKey("val1")
	results, err = handler.Evaluate(context.Background(), packet(2, GroupValue{Key: key, Value: 0}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	result := results[0]
	if result.GroupKey != key || !result.IsActive || result.Priority != PriorityHigh {
		t.Fatalf("unexpected result: %+v", result)
	}
	state := committedState(t, store, detector.ID, key)
	if state.DedupeValue != 2 || !state.Active || state.Status != PriorityHigh {
		t.Fatalf("unexpected committed state: %+v", state)
	}
}

func TestEvaluateNoResultWithoutTransition(t *testing.T) {
	recorder := telemetry.NewCaptureRecorder()
	detector := testDetector(Condition{Comparator: ComparatorGreaterOrEqual, Threshold: 0, ResultPriority: PriorityHigh})
	handler, store := newTestHandler(detector, recorder)
	key := NewGroupKey("val1")

	results, err := handler.Evaluate(context.Background(), packet(2, GroupValue{Key: key, Value: 100}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected first evaluation to transition")
	}

	// Already active at the same priority: no result, but the dedupe
	// marker still advances.
	results, err = handler.Evaluate(context.Background(), packet(3, GroupValue{Key: key, Value: 200}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no result without transition, got %+v", results)
	}
	if state := committedState(t, store, detector.ID, key); state.DedupeValue != 3 {
		t.Fatalf("expected dedupe 3, got %d", state.DedupeValue)
	}
}

func TestEvaluateDedupeReplay(t *testing.T) {
	recorder := telemetry.NewCaptureRecorder()
	detector := testDetector(Condition{Comparator: ComparatorGreaterOrEqual, Threshold: 0, ResultPriority: PriorityHigh})
	handler, store := newTestHandler(detector, recorder)
	key := NewGroupKey("val1")

	if _, err := handler.Evaluate(context.Background(), packet(2, GroupValue{Key: key, Value: 0})); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	// Redelivery of the same packet: skipped entirely.
	results, err := handler.Evaluate(context.Background(), packet(2, GroupValue{Key: key, Value: 0}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected replay to be skipped")
	}
	if recorder.Count(telemetry.SignalSkippingAlreadyProcessed) != 1 {
		t.Fatalf("expected skip signal once, got %d", recorder.Count(telemetry.SignalSkippingAlreadyProcessed))
	}
	if state := committedState(t, store, detector.ID, key); state.DedupeValue != 2 {
		t.Fatalf("dedupe value must not regress, got %d", state.DedupeValue)
	}

	// A stale packet (lower dedupe) is skipped too.
	results, err = handler.Evaluate(context.Background(), packet(1, GroupValue{Key: key, Value: 0}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected stale packet to be skipped")
	}
}

func TestEvaluateMonotonicSequenceProcessed(t *testing.T) {
	recorder := telemetry.NewCaptureRecorder()
	detector := testDetector(Condition{Comparator: ComparatorGreater, Threshold: 100, ResultPriority: PriorityHigh})
	handler, store := newTestHandler(detector, recorder)
	key := NewGroupKey("val1")

	// Strictly increasing dedupe values all evaluate; the state
	// flips with the values.
	if results, _ := handler.Evaluate(context.Background(), packet(1, GroupValue{Key: key, Value: 150})); len(results) != 1 {
		t.Fatalf("expected transition to high")
	}
	if results, _ := handler.Evaluate(context.Background(), packet(2, GroupValue{Key: key, Value: 50})); len(results) != 1 {
		t.Fatalf("expected transition back to ok")
	}
	if results, _ := handler.Evaluate(context.Background(), packet(3, GroupValue{Key: key, Value: 200})); len(results) != 1 {
		t.Fatalf("expected transition to high again")
	}
	if state := committedState(t, store, detector.ID, key); state.DedupeValue != 3 {
		t.Fatalf("expected dedupe 3, got %d", state.DedupeValue)
	}
}

func TestEvaluateResolutionEmitsResult(t *testing.T) {
	recorder := telemetry.NewCaptureRecorder()
	detector := testDetector(Condition{Comparator: ComparatorGreater, Threshold: 100, ResultPriority: PriorityHigh})
	handler, _ := newTestHandler(detector, recorder)
	key := NewGroupKey("val1")

	if _, err := handler.Evaluate(context.Background(), packet(1, GroupValue{Key: key, Value: 150})); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	results, err := handler.Evaluate(context.Background(), packet(2, GroupValue{Key: key, Value: 50}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected resolution result")
	}
	if results[0].IsActive || results[0].Priority != PriorityOK {
		t.Fatalf("expected inactive/ok result, got %+v", results[0])
	}
}

func TestEvaluateNoConditionGroup(t *testing.T) {
	recorder := telemetry.NewCaptureRecorder()
	detector := testDetector() // no condition group
	handler, store := newTestHandler(detector, recorder)
	key := NewGroupKey("val1")

	results, err := handler.Evaluate(context.Background(), packet(2, GroupValue{Key: key, Value: 100}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results without a condition group")
	}
	if recorder.Count(telemetry.SignalSkippingInvalidConditionGroup) != 1 {
		t.Fatalf("expected invalid condition group signal")
	}
	// The dedupe update is still staged and committed so redelivery is
	// rejected.
	state := committedState(t, store, detector.ID, key)
	if state.DedupeValue != 2 {
		t.Fatalf("expected dedupe 2, got %d", state.DedupeValue)
	}
	if state.Active || state.Status != PriorityOK {
		t.Fatalf("expected state untouched: %+v", state)
	}
}

func TestEvaluateDuplicateKeysShareSnapshot(t *testing.T) {
	recorder := telemetry.NewCaptureRecorder()
	detector := testDetector(Condition{Comparator: ComparatorGreaterOrEqual, Threshold: 0, ResultPriority: PriorityHigh})
	handler, _ := newTestHandler(detector, recorder)
	key := NewGroupKey("dupe")

	// Both occurrences evaluate against the same prior snapshot, so
	// both report the transition.
	results, err := handler.Evaluate(context.Background(), packet(2,
		GroupValue{Key: key, Value: 10},
		GroupValue{Key: key, Value: 10}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected two results, got %d", len(results))
	}
	for _, result := range results {
		if result.GroupKey != key || !result.IsActive || result.Priority != PriorityHigh {
			t.Fatalf("unexpected result: %+v", result)
		}
	}
}

func TestEvaluateMalformedPayload(t *testing.T) {
	recorder := telemetry.NewCaptureRecorder()
	detector := testDetector(Condition{Comparator: ComparatorGreater, Threshold: 0, ResultPriority: PriorityHigh})
	handler, _ := newTestHandler(detector, recorder)

	_, err := handler.Evaluate(context.Background(), DataPacket{SourceID: "1", Payload: 42})
	if err == nil {
		t.Fatalf("expected error for wrong payload type")
	}
	if recorder.Count(telemetry.SignalMalformedPacket) != 1 {
		t.Fatalf("expected malformed packet signal")
	}
}

func TestEvaluateDecodesRawPayload(t *testing.T) {
	recorder := telemetry.NewCaptureRecorder()
	detector := testDetector(Condition{Comparator: ComparatorGreater, Threshold: 5, ResultPriority: PriorityMedium})
	handler, _ := newTestHandler(detector, recorder)

	raw := []byte(`{"Dedupe": 7, "Values": [{"Key": "val1", "Value": 10}]}`)
	results, err := handler.Evaluate(context.Background(), DataPacket{SourceID: "1", Payload: raw})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 1 || results[0].Priority != PriorityMedium {
		t.Fatalf("unexpected results from raw payload: %+v", results)
	}
}
