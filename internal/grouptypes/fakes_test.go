package grouptypes

import (
	"context"
	"io"
	"log/slog"
	"time"

	"vigil-backend/internal/cache"
	"vigil-backend/internal/detect"
	"vigil-backend/internal/telemetry"
)

type stateKey struct {
	detectorID string
	groupKey   detect.GroupKey
}

type memoryStateRepo struct {
	rows map[stateKey]detect.DurableState
}

func newMemoryStateRepo() *memoryStateRepo {
	return &memoryStateRepo{rows: map[stateKey]detect.DurableState{}}
}

func (r *memoryStateRepo) FetchStates(ctx context.Context, detectorID string, keys []detect.GroupKey) (map[detect.GroupKey]detect.DurableState, error) {
	states := map[detect.GroupKey]detect.DurableState{}
	for _, key := range keys {
		if row, ok := r.rows[stateKey{detectorID, key}]; ok {
			states[key] = row
		}
	}
	return states, nil
}

func (r *memoryStateRepo) UpsertState(ctx context.Context, detectorID string, key detect.GroupKey, active bool, status detect.PriorityLevel) error {
	r.rows[stateKey{detectorID, key}] = detect.DurableState{Active: active, Status: status}
	return nil
}

func testDeps() detect.HandlerDeps {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := telemetry.NewCaptureRecorder()
	store := detect.NewStateStore(newMemoryStateRepo(), cache.NewMemoryCache(time.Hour), time.Hour, logger, recorder)
	return detect.HandlerDeps{Store: store, Logger: logger, Recorder: recorder}
}
