package detect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"vigil-backend/internal/cache"
	"vigil-backend/internal/telemetry"
)

type stateKey struct {
	detectorID string
	groupKey   GroupKey
}

// fakeStateRepo is an in-memory durable backend for handler and state
// store tests.
type fakeStateRepo struct {
	rows      map[stateKey]DurableState
	upsertErr error
	fetchErr  error
	upserts   int
}

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{rows: map[stateKey]DurableState{}}
}

func (r *fakeStateRepo) FetchStates(ctx context.Context, detectorID string, keys []GroupKey) (map[GroupKey]DurableState, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	states := map[GroupKey]DurableState{}
	for _, key := range keys {
		if row, ok := r.rows[stateKey{detectorID, key}]; ok {
			states[key] = row
		}
	}
	return states, nil
}

func (r *fakeStateRepo) UpsertState(ctx context.Context, detectorID string, key GroupKey, active bool, status PriorityLevel) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserts++
	r.rows[stateKey{detectorID, key}] = DurableState{Active: active, Status: status}
	return nil
}

// failingCache wraps the memory cache and fails every call, for the
// soft-degrade paths.
type failingCache struct{}

func (failingCache) MGet(ctx context.Context, keys ...string) (map[string]int64, error) {
	return nil, errors.New("cache down")
}

func (failingCache) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return errors.New("cache down")
}

func (failingCache) Delete(ctx context.Context, key string) error {
	return errors.New("cache down")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStateStore(repo StateRepository, recorder telemetry.Recorder) *StateStore {
	return NewStateStore(repo, cache.NewMemoryCache(time.Hour), time.Hour, testLogger(), recorder)
}

// testPayload drives the stateful handler tests. Values stay ordered so
// duplicate group keys survive extraction.
type testPayload struct {
	Dedupe int64
	Values []GroupValue
}

type testEvaluator struct {
	counters []string
}

func (e *testEvaluator) DedupeValue(payload testPayload) int64 {
	return payload.Dedupe
}

func (e *testEvaluator) GroupKeyValues(payload testPayload) ([]GroupValue, error) {
	return payload.Values, nil
}

func (e *testEvaluator) CounterNames() []string {
	return e.counters
}

func testDetector(conditions ...Condition) Detector {
	detector := Detector{
		ID:        "detector-1",
		ProjectID: "project-1",
		Name:      "test detector",
		Type:      "test",
		Enabled:   true,
	}
	if len(conditions) > 0 {
		detector.ConditionGroup = &ConditionGroup{ID: "group-1", Conditions: conditions}
	}
	return detector
}
