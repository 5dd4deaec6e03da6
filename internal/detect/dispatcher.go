package detect

import (
	"context"
	"log/slog"

	"vigil-backend/internal/telemetry"
)

// DetectorResult pairs a detector with the results of one packet
// evaluation. Results may be empty when no group transitioned; the
// detector still appears in the dispatcher's output in that case.
type DetectorResult struct {
	Detector Detector
	Results  []Result
}

// Dispatcher fans one data packet out to every applicable detector,
// resolving handlers through the registry and isolating failures per
// detector.
type Dispatcher struct {
	registry *Registry
	deps     HandlerDeps
	logger   *slog.Logger
	recorder telemetry.Recorder
}

func NewDispatcher(registry *Registry, deps HandlerDeps, logger *slog.Logger, recorder telemetry.Recorder) *Dispatcher {
	return &Dispatcher{registry: registry, deps: deps, logger: logger, recorder: recorder}
}

// Process evaluates the packet against each detector in turn. Detectors
// with an unknown type or no handler are logged and omitted; evaluation
// errors are logged and omit only the failing detector. A detector that
// evaluated cleanly with zero transitions still yields an entry.
func (d *Dispatcher) Process(ctx context.Context, packet DataPacket, detectors []Detector) []DetectorResult {
	results := []DetectorResult{}
	for _, detector := range detectors {
		groupType, ok := d.registry.Lookup(detector.Type)
		if !ok {
			d.logger.Error("No registered grouptype for detector",
				slog.String("detector_id", detector.ID),
				slog.String("type", detector.Type))
			continue
		}
		if groupType.HandlerFactory == nil {
			d.logger.Error("Registered grouptype for detector has no detector_handler",
				slog.String("detector_id", detector.ID),
				slog.String("type", detector.Type))
			continue
		}
		handler := groupType.HandlerFactory(detector, d.deps)
		detectorResults, err := handler.Evaluate(ctx, packet)
		if err != nil {
			d.logger.Error("detector evaluation failed",
				slog.String("detector_id", detector.ID),
				slog.String("error", err.Error()))
			continue
		}
		d.warnOnDuplicateKeys(detector, detectorResults)
		results = append(results, DetectorResult{Detector: detector, Results: detectorResults})
	}
	return results
}

// Repeated group keys in one result set mean the upstream packet
// enumerated the same key twice. All results are kept so callers see
// the data-quality issue; only a warning fires here.
func (d *Dispatcher) warnOnDuplicateKeys(detector Detector, results []Result) {
	seen := map[GroupKey]struct{}{}
	for _, result := range results {
		if _, dup := seen[result.GroupKey]; dup {
			d.logger.Error("Duplicate detector state group keys found",
				slog.String("detector_id", detector.ID),
				slog.String("group_key", result.GroupKey.String()))
			d.recorder.Incr(telemetry.SignalDuplicateGroupKeys)
			continue
		}
		seen[result.GroupKey] = struct{}{}
	}
}
