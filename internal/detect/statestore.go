package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vigil-backend/internal/cache"
	"vigil-backend/internal/telemetry"
)

// DefaultStateTTL bounds how long dedupe markers and counters survive
// in the cache. Expiry degrades to the default value, it never blocks
// evaluation.
const DefaultStateTTL = 7 * 24 * time.Hour

// DurableState is the persisted (active, status) pair for one
// (detector, group key) row.
type DurableState struct {
	Active bool
	Status PriorityLevel
}

// StateRepository is the durable backend: one row per
// (detector, group key), upserted only when a state update was staged.
type StateRepository interface {
	// FetchStates returns the rows that exist for the given keys in one
	// batched call. Absent keys are simply missing from the map.
	FetchStates(ctx context.Context, detectorID string, keys []GroupKey) (map[GroupKey]DurableState, error)
	UpsertState(ctx context.Context, detectorID string, key GroupKey, active bool, status PriorityLevel) error
}

// StateUpdate stages a durable (active, status) change for one group key.
type StateUpdate struct {
	Active bool
	Status PriorityLevel
}

// CommitSet carries one evaluation's staged updates. The three update
// classes are independent; a counter value of nil clears that counter
// from the cache.
type CommitSet struct {
	DedupeUpdates  map[GroupKey]int64
	CounterUpdates map[GroupKey]map[string]*int64
	StateUpdates   map[GroupKey]StateUpdate
}

func NewCommitSet() CommitSet {
	return CommitSet{
		DedupeUpdates:  map[GroupKey]int64{},
		CounterUpdates: map[GroupKey]map[string]*int64{},
		StateUpdates:   map[GroupKey]StateUpdate{},
	}
}

func (c CommitSet) groupKeys() []GroupKey {
	seen := map[GroupKey]struct{}{}
	keys := []GroupKey{}
	for key := range c.DedupeUpdates {
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	for key := range c.CounterUpdates {
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	for key := range c.StateUpdates {
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

// BuildDedupeKey derives the cache key holding the last-processed
// dedupe value for one (detector, group key).
func BuildDedupeKey(detectorID string, key GroupKey) string {
	return fmt.Sprintf("%s:%s:dedupe_value", detectorID, key.String())
}

// BuildCounterKey derives the cache key holding one named counter.
func BuildCounterKey(detectorID string, key GroupKey, counter string) string {
	return fmt.Sprintf("%s:%s:%s", detectorID, key.String(), counter)
}

// StateStore merges the durable repository and the expiring cache into
// the per-group StateData snapshots the handler evaluates against.
type StateStore struct {
	repo     StateRepository
	cache    cache.Cache
	ttl      time.Duration
	logger   *slog.Logger
	recorder telemetry.Recorder
}

func NewStateStore(repo StateRepository, c cache.Cache, ttl time.Duration, logger *slog.Logger, recorder telemetry.Recorder) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{repo: repo, cache: c, ttl: ttl, logger: logger, recorder: recorder}
}

// GetStateData returns a snapshot for every requested key. Keys never
// seen before materialize with defaults: inactive, OK, dedupe 0, all
// counters unset. Cache and durable reads are each one batched call.
func (s *StateStore) GetStateData(ctx context.Context, detectorID string, keys []GroupKey, counterNames []string) (map[GroupKey]StateData, error) {
	durable, err := s.repo.FetchStates(ctx, detectorID, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch detector states: %w", err)
	}

	cacheKeys := make([]string, 0, len(keys)*(1+len(counterNames)))
	for _, key := range keys {
		cacheKeys = append(cacheKeys, BuildDedupeKey(detectorID, key))
		for _, counter := range counterNames {
			cacheKeys = append(cacheKeys, BuildCounterKey(detectorID, key, counter))
		}
	}
	cached, err := s.cache.MGet(ctx, cacheKeys...)
	if err != nil {
		// Losing cached values only causes re-computation; degrade to
		// defaults rather than failing the evaluation.
		s.logger.Warn("state cache read failed, using defaults",
			slog.String("detector_id", detectorID), slog.String("error", err.Error()))
		s.recorder.Incr(telemetry.SignalStateCacheDegraded)
		cached = map[string]int64{}
	}

	states := make(map[GroupKey]StateData, len(keys))
	for _, key := range keys {
		data := StateData{
			GroupKey: key,
			Status:   PriorityOK,
			Counters: make(map[string]Cached[int64], len(counterNames)),
		}
		if row, ok := durable[key]; ok {
			data.Active = row.Active
			data.Status = row.Status
		}
		if dedupe, ok := cached[BuildDedupeKey(detectorID, key)]; ok {
			data.DedupeValue = dedupe
		}
		for _, counter := range counterNames {
			if value, ok := cached[BuildCounterKey(detectorID, key, counter)]; ok {
				data.Counters[counter] = Hit(value)
			} else {
				data.Counters[counter] = Miss[int64]()
			}
		}
		states[key] = data
	}
	return states, nil
}

// Commit flushes one evaluation's staged updates. Each group key
// commits independently: a durable failure on one key is reported but
// does not abort the others, and cache failures degrade softly.
func (s *StateStore) Commit(ctx context.Context, detectorID string, updates CommitSet) error {
	var errs []error
	for _, key := range updates.groupKeys() {
		if dedupe, ok := updates.DedupeUpdates[key]; ok {
			if err := s.cache.Set(ctx, BuildDedupeKey(detectorID, key), dedupe, s.ttl); err != nil {
				s.logger.Warn("dedupe cache write failed",
					slog.String("detector_id", detectorID),
					slog.String("group_key", key.String()),
					slog.String("error", err.Error()))
				s.recorder.Incr(telemetry.SignalStateCacheDegraded)
			}
		}
		for counter, value := range updates.CounterUpdates[key] {
			counterKey := BuildCounterKey(detectorID, key, counter)
			var err error
			if value == nil {
				err = s.cache.Delete(ctx, counterKey)
			} else {
				err = s.cache.Set(ctx, counterKey, *value, s.ttl)
			}
			if err != nil {
				s.logger.Warn("counter cache write failed",
					slog.String("detector_id", detectorID),
					slog.String("counter", counter),
					slog.String("error", err.Error()))
				s.recorder.Incr(telemetry.SignalStateCacheDegraded)
			}
		}
		if state, ok := updates.StateUpdates[key]; ok {
			if err := s.repo.UpsertState(ctx, detectorID, key, state.Active, state.Status); err != nil {
				errs = append(errs, fmt.Errorf("upsert state %s/%q: %w", detectorID, key.String(), err))
			}
		}
	}
	return errors.Join(errs...)
}
