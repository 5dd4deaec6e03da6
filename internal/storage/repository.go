package storage

import (
	"context"

	"vigil-backend/internal/detect"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) CreateDetector(ctx context.Context, rec DetectorRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO detectors (id, project_id, name, type, source_id, condition_group_id, config, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.ProjectID, rec.Name, rec.Type, rec.SourceID, rec.ConditionGroupID, rec.Config, rec.Enabled)
	return err
}

func (r *Repository) GetDetector(ctx context.Context, id string) (DetectorRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, project_id, name, type, source_id, condition_group_id, config, enabled, created_at, updated_at
		FROM detectors WHERE id=$1`, id)
	var rec DetectorRecord
	if err := row.Scan(&rec.ID, &rec.ProjectID, &rec.Name, &rec.Type, &rec.SourceID, &rec.ConditionGroupID, &rec.Config, &rec.Enabled, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return DetectorRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *Repository) ListDetectors(ctx context.Context) ([]DetectorRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, project_id, name, type, source_id, condition_group_id, config, enabled, created_at, updated_at
		FROM detectors ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []DetectorRecord{}
	for rows.Next() {
		var rec DetectorRecord
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.Name, &rec.Type, &rec.SourceID, &rec.ConditionGroupID, &rec.Config, &rec.Enabled, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}

func (r *Repository) UpdateDetector(ctx context.Context, rec DetectorRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE detectors SET name=$1, source_id=$2, condition_group_id=$3, config=$4, updated_at=now()
		WHERE id=$5`,
		rec.Name, rec.SourceID, rec.ConditionGroupID, rec.Config, rec.ID)
	return err
}

func (r *Repository) SetDetectorEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE detectors SET enabled=$1, updated_at=now() WHERE id=$2`, enabled, id)
	return err
}

// DeleteDetector removes the detector and cascades its persisted state
// rows. Cached state is left to expire on its own.
func (r *Repository) DeleteDetector(ctx context.Context, id string) error {
	if _, err := r.Store.Pool.Exec(ctx, `DELETE FROM detector_states WHERE detector_id=$1`, id); err != nil {
		return err
	}
	_, err := r.Store.Pool.Exec(ctx, `DELETE FROM detectors WHERE id=$1`, id)
	return err
}

func (r *Repository) CreateConditionGroup(ctx context.Context, group ConditionGroupRecord, conditions []ConditionRecord) error {
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `
		INSERT INTO condition_groups (id, organization_id) VALUES ($1,$2)`,
		group.ID, group.OrganizationID); err != nil {
		return err
	}
	for _, cond := range conditions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conditions (id, condition_group_id, comparator, threshold, result_priority, position)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			cond.ID, cond.ConditionGroupID, cond.Comparator, cond.Threshold, cond.ResultPriority, cond.Position); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetConditionGroup(ctx context.Context, id string) (ConditionGroupRecord, []ConditionRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, organization_id, created_at FROM condition_groups WHERE id=$1`, id)
	var group ConditionGroupRecord
	if err := row.Scan(&group.ID, &group.OrganizationID, &group.CreatedAt); err != nil {
		return ConditionGroupRecord{}, nil, ErrNotFound
	}
	conditions, err := r.listConditions(ctx, []string{id})
	if err != nil {
		return ConditionGroupRecord{}, nil, err
	}
	return group, conditions[id], nil
}

func (r *Repository) listConditions(ctx context.Context, groupIDs []string) (map[string][]ConditionRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, condition_group_id, comparator, threshold, result_priority, position
		FROM conditions WHERE condition_group_id = ANY($1) ORDER BY condition_group_id, position`, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := map[string][]ConditionRecord{}
	for rows.Next() {
		var rec ConditionRecord
		if err := rows.Scan(&rec.ID, &rec.ConditionGroupID, &rec.Comparator, &rec.Threshold, &rec.ResultPriority, &rec.Position); err != nil {
			return nil, err
		}
		results[rec.ConditionGroupID] = append(results[rec.ConditionGroupID], rec)
	}
	return results, nil
}

// ListEnabledDetectorsBySource materializes every enabled detector
// bound to the given source key, condition groups included, ready for
// the dispatcher.
func (r *Repository) ListEnabledDetectorsBySource(ctx context.Context, sourceID string) ([]detect.Detector, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, project_id, name, type, source_id, condition_group_id, config, enabled, created_at, updated_at
		FROM detectors WHERE enabled = true AND source_id=$1 ORDER BY created_at`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []DetectorRecord{}
	groupIDs := []string{}
	for rows.Next() {
		var rec DetectorRecord
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.Name, &rec.Type, &rec.SourceID, &rec.ConditionGroupID, &rec.Config, &rec.Enabled, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
		if rec.ConditionGroupID != nil {
			groupIDs = append(groupIDs, *rec.ConditionGroupID)
		}
	}
	conditions := map[string][]ConditionRecord{}
	if len(groupIDs) > 0 {
		conditions, err = r.listConditions(ctx, groupIDs)
		if err != nil {
			return nil, err
		}
	}
	detectors := make([]detect.Detector, 0, len(records))
	for _, rec := range records {
		detectors = append(detectors, materializeDetector(rec, conditions))
	}
	return detectors, nil
}

func materializeDetector(rec DetectorRecord, conditions map[string][]ConditionRecord) detect.Detector {
	detector := detect.Detector{
		ID:        rec.ID,
		ProjectID: rec.ProjectID,
		Name:      rec.Name,
		Type:      rec.Type,
		Config:    rec.Config,
		Enabled:   rec.Enabled,
	}
	if rec.ConditionGroupID != nil {
		group := &detect.ConditionGroup{ID: *rec.ConditionGroupID}
		for _, cond := range conditions[*rec.ConditionGroupID] {
			group.Conditions = append(group.Conditions, detect.Condition{
				Comparator:     cond.Comparator,
				Threshold:      cond.Threshold,
				ResultPriority: detect.PriorityLevel(cond.ResultPriority),
			})
		}
		detector.ConditionGroup = group
	}
	return detector
}
