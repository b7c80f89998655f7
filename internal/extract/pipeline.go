package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/amazon"
	"github.com/user/price-tracker/internal/domain"
)

// Stage is one extraction strategy. Every stage returns a terminal result;
// page-level failures never surface as errors.
type Stage interface {
	Run(ctx context.Context, url string) domain.ExtractionResult
}

// PipelineConfig carries the feature flags and thresholds the orchestrator
// needs. Built once from the service config; no ambient state.
type PipelineConfig struct {
	VisionEnabled      bool
	DOMFallbackEnabled bool
	Guardrail          GuardrailConfig
}

// Pipeline runs the extraction stages in cost order, short-circuiting on
// the first success or blocked signal.
type Pipeline struct {
	htmlJSON Stage
	vision   *VisionStage
	dom      Stage
	cfg      PipelineConfig
	logger   *zap.Logger
}

// NewPipeline composes the stages. vision and dom may be nil when their
// flags are off.
func NewPipeline(htmlJSON Stage, vision *VisionStage, dom Stage, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{htmlJSON: htmlJSON, vision: vision, dom: dom, cfg: cfg, logger: logger}
}

// Run walks HTML/JSON -> vision -> DOM fallback. Callers always receive a
// terminal result: when every stage comes up empty the last rejected or
// empty result is returned rather than an error.
//
// baselinePrice is the product's last known price, used by the vision
// guardrail; pass 0 when unknown.
func (p *Pipeline) Run(ctx context.Context, url string, baselinePrice float64) domain.ExtractionResult {
	result := p.htmlJSON.Run(ctx, url)
	if result.Price != nil || result.BlockedSignal {
		return result
	}
	last := result

	if p.cfg.VisionEnabled && p.vision != nil {
		fallbackCurrency := amazon.FallbackCurrency(amazon.ExtractDomain(url))
		visionResult := p.vision.Run(ctx, url, fallbackCurrency)
		if visionResult.BlockedSignal {
			return visionResult
		}
		if visionResult.Price != nil {
			verdict := EvaluateGuardrail(visionResult, baselinePrice, p.cfg.Guardrail)
			if verdict.Accepted {
				return visionResult
			}
			p.logger.Warn("vision result rejected by guardrail",
				zap.String("url", url),
				zap.String("reason", verdict.Reason),
				zap.Float64("price", visionResult.Price.Numeric))
			visionResult.Debug["guardrail_rejected"] = verdict.Reason
		}
		last = visionResult
	}

	if p.cfg.DOMFallbackEnabled && p.dom != nil {
		return p.dom.Run(ctx, url)
	}

	return last
}
