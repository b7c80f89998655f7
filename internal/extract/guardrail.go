package extract

import (
	"fmt"
	"math"

	"github.com/user/price-tracker/internal/domain"
)

// GuardrailConfig holds the externally configurable acceptance thresholds
// for vision results.
type GuardrailConfig struct {
	MinConfidence    float64
	MaxRelativeDelta float64
}

// DefaultGuardrail matches the production thresholds.
var DefaultGuardrail = GuardrailConfig{MinConfidence: 0.92, MaxRelativeDelta: 0.5}

// GuardrailVerdict reports whether a result passed the plausibility check.
type GuardrailVerdict struct {
	Accepted bool
	Reason   string
}

// EvaluateGuardrail accepts or rejects a vision result given a baseline
// price. Pure function; a no-op for non-vision results and for vision
// results that carry no price.
func EvaluateGuardrail(result domain.ExtractionResult, baselinePrice float64, cfg GuardrailConfig) GuardrailVerdict {
	if result.Method != domain.MethodVision || result.Price == nil {
		return GuardrailVerdict{Accepted: true}
	}

	if result.Confidence < cfg.MinConfidence {
		return GuardrailVerdict{
			Accepted: false,
			Reason:   fmt.Sprintf("low_confidence:%.2f", result.Confidence),
		}
	}

	if baselinePrice > 0 {
		delta := math.Abs(result.Price.Numeric-baselinePrice) / baselinePrice
		if delta > cfg.MaxRelativeDelta {
			return GuardrailVerdict{
				Accepted: false,
				Reason:   fmt.Sprintf("relative_delta:%.2f", delta),
			}
		}
	}

	return GuardrailVerdict{Accepted: true}
}
