package storage

import (
	"encoding/json"
	"time"
)

type DetectorRecord struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"projectId"`
	Name             string          `json:"name"`
	Type             string          `json:"type"`
	SourceID         string          `json:"sourceId"`
	ConditionGroupID *string         `json:"conditionGroupId"`
	Config           json.RawMessage `json:"config"`
	Enabled          bool            `json:"enabled"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type ConditionGroupRecord struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	CreatedAt      time.Time `json:"createdAt"`
}

type StateRow struct {
	GroupKey  string    `json:"groupKey"`
	Active    bool      `json:"active"`
	Status    int       `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ConditionRecord struct {
	ID               string  `json:"id"`
	ConditionGroupID string  `json:"conditionGroupId"`
	Comparator       string  `json:"comparator"`
	Threshold        float64 `json:"threshold"`
	ResultPriority   int     `json:"resultPriority"`
	Position         int     `json:"position"`
}
