package detect

import (
	"encoding/json"
)

// PriorityLevel orders detector statuses. The zero value is OK, which
// doubles as "no condition matched".
type PriorityLevel int

const (
	PriorityOK     PriorityLevel = 0
	PriorityLow    PriorityLevel = 25
	PriorityMedium PriorityLevel = 50
	PriorityHigh   PriorityLevel = 75
)

func (p PriorityLevel) String() string {
	switch p {
	case PriorityOK:
		return "ok"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ValidResultPriority reports whether p can be a condition's result.
// OK is excluded: "no match" already maps to OK.
func ValidResultPriority(p PriorityLevel) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// GroupKey partitions a detector's evaluation into independent firing
// states. The zero value means the detector has no sub-grouping.
type GroupKey struct {
	Key   string
	Valid bool
}

var Ungrouped = GroupKey{}

func NewGroupKey(key string) GroupKey {
	return GroupKey{Key: key, Valid: true}
}

// String returns the representation used inside cache keys and the
// durable primary key. Ungrouped maps to the empty string.
func (g GroupKey) String() string {
	if !g.Valid {
		return ""
	}
	return g.Key
}

func (g GroupKey) MarshalJSON() ([]byte, error) {
	if !g.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(g.Key)
}

func (g *GroupKey) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*g = Ungrouped
		return nil
	}
	var key string
	if err := json.Unmarshal(data, &key); err != nil {
		return err
	}
	*g = NewGroupKey(key)
	return nil
}

// Cached distinguishes "value is zero" from "no value recorded". Cache
// expiry yields a miss, never a zero.
type Cached[T any] struct {
	value T
	hit   bool
}

func Hit[T any](value T) Cached[T] {
	return Cached[T]{value: value, hit: true}
}

func Miss[T any]() Cached[T] {
	return Cached[T]{}
}

func (c Cached[T]) Get() (T, bool) {
	return c.value, c.hit
}

// Or returns the cached value, or fallback on a miss.
func (c Cached[T]) Or(fallback T) T {
	if c.hit {
		return c.value
	}
	return fallback
}

// DataPacket is one evaluation input delivered by the stream harness.
// Payload is opaque to the dispatcher and state store; concrete group
// types decode it themselves.
type DataPacket struct {
	SourceID string `json:"source_id"`
	Payload  any    `json:"payload"`
}

// Condition is one threshold rule inside a condition group.
type Condition struct {
	Comparator     string        `json:"comparator"`
	Threshold      float64       `json:"threshold"`
	ResultPriority PriorityLevel `json:"resultPriority"`
}

// ConditionGroup is an ordered set of conditions owned by a detector.
type ConditionGroup struct {
	ID         string      `json:"id"`
	Conditions []Condition `json:"conditions"`
}

// Detector is the configuration entity the engine evaluates. It is
// supplied fully materialized by the config collaborator and never
// mutated here.
type Detector struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"projectId"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	ConditionGroup *ConditionGroup `json:"conditionGroup,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
	Enabled        bool            `json:"enabled"`
}

// StateData is the merged durable+cached snapshot for one
// (detector, group key) pair.
type StateData struct {
	GroupKey    GroupKey
	Active      bool
	Status      PriorityLevel
	DedupeValue int64
	Counters    map[string]Cached[int64]
}

// Result is emitted only when a group's (active, status) pair changed
// relative to its previously committed state.
type Result struct {
	GroupKey   GroupKey       `json:"groupKey"`
	IsActive   bool           `json:"isActive"`
	Priority   PriorityLevel  `json:"priority"`
	Occurrence map[string]any `json:"occurrence,omitempty"`
}

// GroupValue is one (group key, evaluation value) pair extracted from a
// packet. Extraction returns an ordered slice so repeated keys inside a
// single packet are preserved rather than collapsed.
type GroupValue struct {
	Key   GroupKey
	Value float64
}
