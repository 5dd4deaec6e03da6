package grouptypes

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"vigil-backend/internal/detect"
)

const BillingUsageSlug = "billing_usage"

// Counters tracked per group key: consecutive buckets at or above each
// configured threshold. A bucket below the threshold clears the run.
const (
	counterWarning  = "warning"
	counterCritical = "critical"
)

// BillingUsagePacket is one batch of metered usage buckets. Seq is the
// producer's monotonic batch sequence and serves as the dedupe marker.
type BillingUsagePacket struct {
	Seq     int64         `json:"seq"`
	Buckets []UsageBucket `json:"buckets"`
}

type UsageBucket struct {
	GroupKey string  `json:"group_key"`
	Quantity float64 `json:"quantity"`
}

// BillingUsageConfig is the detector config blob for this type.
type BillingUsageConfig struct {
	WarningThreshold  float64 `json:"warningThreshold"`
	CriticalThreshold float64 `json:"criticalThreshold"`
}

type billingUsageEvaluator struct {
	detector detect.Detector
	config   BillingUsageConfig
}

func (e *billingUsageEvaluator) DedupeValue(packet BillingUsagePacket) int64 {
	return packet.Seq
}

func (e *billingUsageEvaluator) GroupKeyValues(packet BillingUsagePacket) ([]detect.GroupValue, error) {
	// Buckets pass through in producer order, repeated keys included;
	// the dispatcher warns on duplicates downstream.
	values := make([]detect.GroupValue, 0, len(packet.Buckets))
	for _, bucket := range packet.Buckets {
		key := detect.Ungrouped
		if bucket.GroupKey != "" {
			key = detect.NewGroupKey(bucket.GroupKey)
		}
		values = append(values, detect.GroupValue{Key: key, Value: bucket.Quantity})
	}
	return values, nil
}

func (e *billingUsageEvaluator) CounterNames() []string {
	return []string{counterWarning, counterCritical}
}

func (e *billingUsageEvaluator) CounterUpdates(packet BillingUsagePacket, key detect.GroupKey, value float64, prior detect.StateData) map[string]*int64 {
	updates := map[string]*int64{}
	updates[counterWarning] = nextRun(prior.Counters[counterWarning], value >= e.config.WarningThreshold)
	updates[counterCritical] = nextRun(prior.Counters[counterCritical], value >= e.config.CriticalThreshold)
	return updates
}

// nextRun extends a consecutive-breach counter or clears it. A cleared
// counter is removed from the cache entirely so "no run" stays
// distinguishable from "run of zero".
func nextRun(prior detect.Cached[int64], breached bool) *int64 {
	if !breached {
		return nil
	}
	next := prior.Or(0) + 1
	return &next
}

// BillingUsageValidator checks the config blob at CRUD time.
type BillingUsageValidator struct{}

func (BillingUsageValidator) ValidateConfig(config json.RawMessage) error {
	var cfg BillingUsageConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("invalid billing_usage config: %w", err)
	}
	if cfg.WarningThreshold <= 0 || cfg.CriticalThreshold <= 0 {
		return fmt.Errorf("thresholds must be positive")
	}
	if cfg.WarningThreshold >= cfg.CriticalThreshold {
		return fmt.Errorf("warningThreshold must be below criticalThreshold")
	}
	return nil
}

func newBillingUsageHandler(detector detect.Detector, deps detect.HandlerDeps) detect.Handler {
	var cfg BillingUsageConfig
	if len(detector.Config) > 0 {
		if err := json.Unmarshal(detector.Config, &cfg); err != nil {
			// Config is validated at CRUD time; a decode failure here
			// means stored config drifted. Counters degrade to zero
			// thresholds rather than dropping the packet.
			deps.Logger.Error("invalid billing_usage config",
				slog.String("detector_id", detector.ID),
				slog.String("error", err.Error()))
		}
	}
	return detect.NewStatefulHandler[BillingUsagePacket](
		detector,
		&billingUsageEvaluator{detector: detector, config: cfg},
		deps.Store,
		deps.Logger,
		deps.Recorder,
	)
}
