package grouptypes

import (
	"vigil-backend/internal/detect"
)

// RegisterBuiltins registers every built-in group type. Called once at
// startup; the registry is read-only afterwards.
func RegisterBuiltins(registry *detect.Registry) error {
	builtins := []detect.GroupType{
		{
			Slug:            MetricSubscriptionSlug,
			Description:     "Metric subscription threshold fired",
			DefaultPriority: detect.PriorityHigh,
			CreationQuota:   detect.Quota{WindowSeconds: 3600, GranularitySeconds: 60, Limit: 100},
			HandlerFactory:  newMetricSubscriptionHandler,
			Validator:       MetricSubscriptionValidator{},
		},
		{
			Slug:            BillingUsageSlug,
			Description:     "Billing usage threshold fired",
			DefaultPriority: detect.PriorityMedium,
			CreationQuota:   detect.Quota{WindowSeconds: 3600, GranularitySeconds: 300, Limit: 20},
			HandlerFactory:  newBillingUsageHandler,
			Validator:       BillingUsageValidator{},
		},
	}
	for _, gt := range builtins {
		if err := registry.Register(gt); err != nil {
			return err
		}
	}
	return nil
}
