package grouptypes

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"vigil-backend/internal/detect"
)

const MetricSubscriptionSlug = "metric_subscription"

// MetricSubscriptionUpdate is the payload a metric query subscription
// delivers: one aggregate value per group segment, stamped with the
// query window end. The timestamp doubles as the dedupe marker.
type MetricSubscriptionUpdate struct {
	SubscriptionID string             `json:"subscription_id"`
	Timestamp      time.Time          `json:"timestamp"`
	Value          *float64           `json:"value,omitempty"`
	GroupValues    map[string]float64 `json:"group_values,omitempty"`
}

// MetricSubscriptionConfig is the detector config blob for this type.
type MetricSubscriptionConfig struct {
	SubscriptionID string `json:"subscriptionId"`
}

type metricSubscriptionEvaluator struct {
	detector detect.Detector
}

func (e *metricSubscriptionEvaluator) DedupeValue(update MetricSubscriptionUpdate) int64 {
	return update.Timestamp.Unix()
}

func (e *metricSubscriptionEvaluator) GroupKeyValues(update MetricSubscriptionUpdate) ([]detect.GroupValue, error) {
	values := []detect.GroupValue{}
	if update.Value != nil {
		values = append(values, detect.GroupValue{Key: detect.Ungrouped, Value: *update.Value})
	}
	segments := make([]string, 0, len(update.GroupValues))
	for segment := range update.GroupValues {
		segments = append(segments, segment)
	}
	sort.Strings(segments)
	for _, segment := range segments {
		values = append(values, detect.GroupValue{Key: detect.NewGroupKey(segment), Value: update.GroupValues[segment]})
	}
	return values, nil
}

func (e *metricSubscriptionEvaluator) CounterNames() []string {
	return nil
}

func (e *metricSubscriptionEvaluator) BuildOccurrence(update MetricSubscriptionUpdate, key detect.GroupKey, value float64, priority detect.PriorityLevel) map[string]any {
	return map[string]any{
		"id":             uuid.NewString(),
		"detectorId":     e.detector.ID,
		"detectorName":   e.detector.Name,
		"subscriptionId": update.SubscriptionID,
		"groupKey":       key,
		"value":          value,
		"priority":       priority.String(),
		"detectedAt":     update.Timestamp.UTC(),
	}
}

// MetricSubscriptionValidator checks the config blob at CRUD time.
type MetricSubscriptionValidator struct{}

func (MetricSubscriptionValidator) ValidateConfig(config json.RawMessage) error {
	var cfg MetricSubscriptionConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("invalid metric_subscription config: %w", err)
	}
	if cfg.SubscriptionID == "" {
		return fmt.Errorf("subscriptionId is required")
	}
	return nil
}

func newMetricSubscriptionHandler(detector detect.Detector, deps detect.HandlerDeps) detect.Handler {
	return detect.NewStatefulHandler[MetricSubscriptionUpdate](
		detector,
		&metricSubscriptionEvaluator{detector: detector},
		deps.Store,
		deps.Logger,
		deps.Recorder,
	)
}
