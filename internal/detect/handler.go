package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"vigil-backend/internal/telemetry"
)

// Handler is the per-detector evaluation entry point the dispatcher
// resolves through the registry.
type Handler interface {
	Evaluate(ctx context.Context, packet DataPacket) ([]Result, error)
}

// GroupTypeEvaluator is the capability set a concrete detector type
// implements. The shared stateful orchestration lives in
// StatefulHandler; concrete types only extract values from their
// payload shape.
type GroupTypeEvaluator[T any] interface {
	// DedupeValue extracts a monotonic marker from the packet. Packets
	// whose marker does not advance past the committed value are
	// skipped per group key.
	DedupeValue(payload T) int64
	// GroupKeyValues extracts the (group key, value) pairs to evaluate,
	// in packet order. Malformed entries are skipped by the
	// implementation, not surfaced as a packet-level failure.
	GroupKeyValues(payload T) ([]GroupValue, error)
	// CounterNames declares the named counters this type tracks, if any.
	CounterNames() []string
}

// CounterUpdater lets a group type stage counter changes per evaluated
// group key. A nil value clears that counter.
type CounterUpdater[T any] interface {
	CounterUpdates(payload T, key GroupKey, value float64, prior StateData) map[string]*int64
}

// OccurrenceBuilder lets a group type attach an opaque occurrence
// payload to transition results.
type OccurrenceBuilder[T any] interface {
	BuildOccurrence(payload T, key GroupKey, value float64, priority PriorityLevel) map[string]any
}

// StatefulHandler runs the shared evaluation state machine for one
// detector: dedupe check, condition-group guard, counter bookkeeping,
// condition evaluation, transition detection, and a single commit.
// Staged updates live in a per-call CommitSet, never on the handler, so
// one handler value can serve evaluations concurrently.
type StatefulHandler[T any] struct {
	detector Detector
	impl     GroupTypeEvaluator[T]
	store    *StateStore
	logger   *slog.Logger
	recorder telemetry.Recorder
}

func NewStatefulHandler[T any](detector Detector, impl GroupTypeEvaluator[T], store *StateStore, logger *slog.Logger, recorder telemetry.Recorder) *StatefulHandler[T] {
	return &StatefulHandler[T]{
		detector: detector,
		impl:     impl,
		store:    store,
		logger:   logger,
		recorder: recorder,
	}
}

func (h *StatefulHandler[T]) Evaluate(ctx context.Context, packet DataPacket) ([]Result, error) {
	payload, err := decodePayload[T](packet.Payload)
	if err != nil {
		h.recorder.Incr(telemetry.SignalMalformedPacket)
		return nil, fmt.Errorf("decode packet for detector %s: %w", h.detector.ID, err)
	}
	values, err := h.impl.GroupKeyValues(payload)
	if err != nil {
		h.recorder.Incr(telemetry.SignalMalformedPacket)
		return nil, fmt.Errorf("extract group values for detector %s: %w", h.detector.ID, err)
	}
	dedupeValue := h.impl.DedupeValue(payload)

	// One batched read for all keys in the packet. Repeated keys share
	// the same prior snapshot; they are evaluated independently, not
	// incrementally.
	states, err := h.store.GetStateData(ctx, h.detector.ID, uniqueKeys(values), h.impl.CounterNames())
	if err != nil {
		return nil, err
	}

	updates := NewCommitSet()
	results := []Result{}
	for _, gv := range values {
		if result := h.evaluateGroupKeyValue(payload, gv, states[gv.Key], dedupeValue, &updates); result != nil {
			results = append(results, *result)
		}
	}
	if err := h.store.Commit(ctx, h.detector.ID, updates); err != nil {
		return nil, err
	}
	return results, nil
}

func (h *StatefulHandler[T]) evaluateGroupKeyValue(payload T, gv GroupValue, prior StateData, dedupeValue int64, updates *CommitSet) *Result {
	if dedupeValue <= prior.DedupeValue {
		h.recorder.Incr(telemetry.SignalSkippingAlreadyProcessed)
		return nil
	}
	// Staged even when nothing else happens, so a redelivery of this
	// packet is rejected by the dedupe check next time.
	updates.DedupeUpdates[gv.Key] = dedupeValue

	if h.detector.ConditionGroup == nil {
		h.recorder.Incr(telemetry.SignalSkippingInvalidConditionGroup)
		return nil
	}

	counters := map[string]*int64{}
	if updater, ok := h.impl.(CounterUpdater[T]); ok {
		if staged := updater.CounterUpdates(payload, gv.Key, gv.Value, prior); staged != nil {
			counters = staged
		}
	}
	updates.CounterUpdates[gv.Key] = counters

	priority := EvaluateConditions(h.logger, h.detector.ConditionGroup.Conditions, gv.Value)
	active := priority != PriorityOK
	if prior.Active == active && prior.Status == priority {
		return nil
	}
	updates.StateUpdates[gv.Key] = StateUpdate{Active: active, Status: priority}

	result := Result{GroupKey: gv.Key, IsActive: active, Priority: priority}
	if builder, ok := h.impl.(OccurrenceBuilder[T]); ok {
		result.Occurrence = builder.BuildOccurrence(payload, gv.Key, gv.Value, priority)
	}
	return &result
}

func uniqueKeys(values []GroupValue) []GroupKey {
	seen := map[GroupKey]struct{}{}
	keys := make([]GroupKey, 0, len(values))
	for _, gv := range values {
		if _, ok := seen[gv.Key]; ok {
			continue
		}
		seen[gv.Key] = struct{}{}
		keys = append(keys, gv.Key)
	}
	return keys
}

func decodePayload[T any](payload any) (T, error) {
	if typed, ok := payload.(T); ok {
		return typed, nil
	}
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		var zero T
		return zero, fmt.Errorf("unexpected payload type %T", payload)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
