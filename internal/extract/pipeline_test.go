package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/domain"
)

type stubStage struct {
	result domain.ExtractionResult
	calls  int
}

func (s *stubStage) Run(ctx context.Context, url string) domain.ExtractionResult {
	s.calls++
	return s.result
}

func okResult(method string, numeric float64) domain.ExtractionResult {
	return domain.ExtractionResult{
		Status:     domain.ExtractionOK,
		Method:     method,
		Price:      &domain.Price{Numeric: numeric, Currency: "EUR"},
		Confidence: 0.96,
		Debug:      map[string]any{},
	}
}

func noPriceResult(method string) domain.ExtractionResult {
	return domain.ExtractionResult{Status: domain.ExtractionNoPrice, Method: method, Debug: map[string]any{}}
}

func blockedResult(method string) domain.ExtractionResult {
	return domain.ExtractionResult{
		Status:        domain.ExtractionBlocked,
		Method:        method,
		BlockedSignal: true,
		BlockedReason: ReasonCaptcha,
		Debug:         map[string]any{},
	}
}

func visionStageReturning(out string) *VisionStage {
	return NewVisionStage(
		&stubShooter{result: ScreenshotResult{Image: []byte("png")}},
		&stubProvider{out: out},
	)
}

func TestPipelineShortCircuitsOnHTMLSuccess(t *testing.T) {
	html := &stubStage{result: okResult(domain.MethodHTMLJSON, 329)}
	dom := &stubStage{result: okResult(domain.MethodDOM, 999)}
	p := NewPipeline(html, nil, dom, PipelineConfig{DOMFallbackEnabled: true}, zap.NewNop())

	res := p.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234", 0)
	assert.Equal(t, domain.MethodHTMLJSON, res.Method)
	assert.Equal(t, 0, dom.calls)
}

func TestPipelineShortCircuitsOnBlocked(t *testing.T) {
	html := &stubStage{result: blockedResult(domain.MethodHTMLJSON)}
	dom := &stubStage{result: okResult(domain.MethodDOM, 999)}
	p := NewPipeline(html, nil, dom, PipelineConfig{DOMFallbackEnabled: true}, zap.NewNop())

	res := p.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234", 0)
	assert.True(t, res.BlockedSignal)
	assert.Equal(t, 0, dom.calls)
}

func TestPipelineVisionAcceptedByGuardrail(t *testing.T) {
	html := &stubStage{result: noPriceResult(domain.MethodHTMLJSON)}
	vision := visionStageReturning(`{"price":"329.00","currency":"EUR","confidence":0.97,"is_blocked":false}`)
	dom := &stubStage{result: okResult(domain.MethodDOM, 999)}
	p := NewPipeline(html, vision, dom, PipelineConfig{
		VisionEnabled:      true,
		DOMFallbackEnabled: true,
		Guardrail:          DefaultGuardrail,
	}, zap.NewNop())

	res := p.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234", 330)
	assert.Equal(t, domain.MethodVision, res.Method)
	require.NotNil(t, res.Price)
	assert.Equal(t, 329.0, res.Price.Numeric)
	assert.Equal(t, 0, dom.calls)
}

func TestPipelineVisionRejectedFallsThroughToDOM(t *testing.T) {
	html := &stubStage{result: noPriceResult(domain.MethodHTMLJSON)}
	// Confidence below the guardrail threshold.
	vision := visionStageReturning(`{"price":"329.00","currency":"EUR","confidence":0.5,"is_blocked":false}`)
	dom := &stubStage{result: okResult(domain.MethodDOM, 329)}
	p := NewPipeline(html, vision, dom, PipelineConfig{
		VisionEnabled:      true,
		DOMFallbackEnabled: true,
		Guardrail:          DefaultGuardrail,
	}, zap.NewNop())

	res := p.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234", 330)
	assert.Equal(t, domain.MethodDOM, res.Method)
	assert.Equal(t, 1, dom.calls)
}

func TestPipelineVisionBlockedShortCircuits(t *testing.T) {
	html := &stubStage{result: noPriceResult(domain.MethodHTMLJSON)}
	vision := visionStageReturning(`{"price":null,"is_blocked":true,"reason":"captcha","confidence":0.9}`)
	dom := &stubStage{result: okResult(domain.MethodDOM, 999)}
	p := NewPipeline(html, vision, dom, PipelineConfig{
		VisionEnabled:      true,
		DOMFallbackEnabled: true,
		Guardrail:          DefaultGuardrail,
	}, zap.NewNop())

	res := p.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234", 0)
	assert.True(t, res.BlockedSignal)
	assert.Equal(t, 0, dom.calls)
}

func TestPipelineReturnsLastResultWhenDOMDisabled(t *testing.T) {
	html := &stubStage{result: noPriceResult(domain.MethodHTMLJSON)}
	vision := visionStageReturning(`{"price":"329.00","currency":"EUR","confidence":0.5,"is_blocked":false}`)
	p := NewPipeline(html, vision, nil, PipelineConfig{
		VisionEnabled: true,
		Guardrail:     DefaultGuardrail,
	}, zap.NewNop())

	res := p.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234", 330)
	// Callers always receive a terminal result, the rejected vision one here.
	assert.Equal(t, domain.MethodVision, res.Method)
	assert.Equal(t, "low_confidence:0.50", res.Debug["guardrail_rejected"])
}

func TestPipelineNoDebugWithoutStages(t *testing.T) {
	html := &stubStage{result: noPriceResult(domain.MethodHTMLJSON)}
	p := NewPipeline(html, nil, nil, PipelineConfig{}, zap.NewNop())
	res := p.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234", 0)
	assert.Equal(t, domain.ExtractionNoPrice, res.Status)
	assert.Equal(t, domain.MethodHTMLJSON, res.Method)
}
