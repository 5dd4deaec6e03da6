package storage

import (
	"context"

	"vigil-backend/internal/detect"
)

// StateRepo is the durable backend of the detector state store: one row
// per (detector, group key), written only when the (active, status)
// pair changed. The ungrouped key persists as the empty string because
// the primary key cannot hold NULL.
type StateRepo struct {
	Store *Store
}

func NewStateRepo(store *Store) *StateRepo {
	return &StateRepo{Store: store}
}

func (r *StateRepo) FetchStates(ctx context.Context, detectorID string, keys []detect.GroupKey) (map[detect.GroupKey]detect.DurableState, error) {
	if len(keys) == 0 {
		return map[detect.GroupKey]detect.DurableState{}, nil
	}
	rawKeys := make([]string, 0, len(keys))
	byRaw := make(map[string]detect.GroupKey, len(keys))
	for _, key := range keys {
		rawKeys = append(rawKeys, key.String())
		byRaw[key.String()] = key
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT group_key, active, status FROM detector_states
		WHERE detector_id=$1 AND group_key = ANY($2)`, detectorID, rawKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	states := map[detect.GroupKey]detect.DurableState{}
	for rows.Next() {
		var raw string
		var active bool
		var status int
		if err := rows.Scan(&raw, &active, &status); err != nil {
			return nil, err
		}
		states[byRaw[raw]] = detect.DurableState{Active: active, Status: detect.PriorityLevel(status)}
	}
	return states, rows.Err()
}

func (r *StateRepo) UpsertState(ctx context.Context, detectorID string, key detect.GroupKey, active bool, status detect.PriorityLevel) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO detector_states (detector_id, group_key, active, status)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (detector_id, group_key)
		DO UPDATE SET active=EXCLUDED.active, status=EXCLUDED.status, updated_at=now()`,
		detectorID, key.String(), active, int(status))
	return err
}

// ListStates backs the worker's debug endpoint.
func (r *StateRepo) ListStates(ctx context.Context, detectorID string) ([]StateRow, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT group_key, active, status, updated_at FROM detector_states
		WHERE detector_id=$1 ORDER BY group_key`, detectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []StateRow{}
	for rows.Next() {
		var row StateRow
		if err := rows.Scan(&row.GroupKey, &row.Active, &row.Status, &row.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
