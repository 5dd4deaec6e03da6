package detect

import (
	"log/slog"
)

// Comparator slugs accepted in a condition group.
const (
	ComparatorGreater        = "gt"
	ComparatorGreaterOrEqual = "gte"
	ComparatorLess           = "lt"
	ComparatorLessOrEqual    = "lte"
	ComparatorEqual          = "eq"
	ComparatorNotEqual       = "ne"
)

func compare(comparator string, value, threshold float64) (bool, bool) {
	switch comparator {
	case ComparatorGreater:
		return value > threshold, true
	case ComparatorGreaterOrEqual:
		return value >= threshold, true
	case ComparatorLess:
		return value < threshold, true
	case ComparatorLessOrEqual:
		return value <= threshold, true
	case ComparatorEqual:
		return value == threshold, true
	case ComparatorNotEqual:
		return value != threshold, true
	default:
		return false, false
	}
}

// KnownComparator reports whether the slug is one the evaluator can
// apply. Validators call this at configuration time.
func KnownComparator(comparator string) bool {
	switch comparator {
	case ComparatorGreater, ComparatorGreaterOrEqual, ComparatorLess,
		ComparatorLessOrEqual, ComparatorEqual, ComparatorNotEqual:
		return true
	}
	return false
}

// EvaluateConditions runs every condition in the group against value
// and returns the highest matching result priority. No match, or an
// empty group, yields PriorityOK. When several conditions match, the
// numerically highest priority wins regardless of list order.
func EvaluateConditions(logger *slog.Logger, conditions []Condition, value float64) PriorityLevel {
	result := PriorityOK
	for _, cond := range conditions {
		matched, known := compare(cond.Comparator, value, cond.Threshold)
		if !known {
			logger.Error("unknown condition comparator",
				slog.String("comparator", cond.Comparator))
			continue
		}
		if matched && cond.ResultPriority > result {
			result = cond.ResultPriority
		}
	}
	return result
}
