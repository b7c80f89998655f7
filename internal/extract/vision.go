package extract

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/price"
)

// Screenshotter renders a page and captures a full-page screenshot.
// Implemented by the browser pool; stubbed in tests.
type Screenshotter interface {
	Screenshot(ctx context.Context, url, currencyCookie string) (ScreenshotResult, error)
}

// ScreenshotResult is what the rendering collaborator hands back.
type ScreenshotResult struct {
	Image      []byte
	HTTPStatus int
	PageTitle  string
	FinalURL   string
}

// VisionStage sends a rendered screenshot to a vision-capable model and
// parses its strict-JSON answer.
type VisionStage struct {
	shooter  Screenshotter
	provider VisionProvider
}

// NewVisionStage wires the screenshot collaborator and the selected
// provider. provider may be nil when no API key is configured; Run then
// degrades to a no_price result.
func NewVisionStage(shooter Screenshotter, provider VisionProvider) *VisionStage {
	return &VisionStage{shooter: shooter, provider: provider}
}

// visionPrompt instructs the model to return strict JSON restricted to the
// primary buy-box price.
const visionPrompt = "You extract the final payable price from an Amazon product-detail screenshot. " +
	"Respond with JSON only using exactly keys: price, currency, confidence, is_blocked, reason, raw_text. " +
	"price must be a decimal number (dot separator), or null when uncertain. " +
	"Only use the main buy-box product price for the shown product. " +
	"Ignore list/strike prices, \"from\" ranges, installment/monthly values, coupons, shipping, used/new offers, bundle prices, and sponsored/related product prices. " +
	"If the page is captcha/challenge/login/cookie-wall and price is not clearly visible, set is_blocked=true and price=null. " +
	"If multiple plausible prices exist, set price=null. " +
	"confidence must be a number between 0 and 1."

// extractJSONBlock parses text as JSON, tolerating leading/trailing prose by
// falling back to the outermost {...} block.
func extractJSONBlock(text string) map[string]any {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil
	}
	return out
}

func clampConfidence(value any) float64 {
	var numeric float64
	switch v := value.(type) {
	case float64:
		numeric = v
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		numeric = parsed
	default:
		return 0
	}
	if numeric < 0 {
		return 0
	}
	if numeric > 1 {
		return 1
	}
	return numeric
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// normalizeVisionOutput turns raw model output into a terminal result.
// Returns false when the output carried no parseable JSON at all.
func normalizeVisionOutput(raw, fallbackCurrency string) (domain.ExtractionResult, bool) {
	result := domain.ExtractionResult{
		Status: domain.ExtractionNoPrice,
		Method: domain.MethodVision,
		Debug:  map[string]any{"source": domain.MethodVision},
	}

	parsed := extractJSONBlock(raw)
	if parsed == nil {
		return result, false
	}

	blocked, _ := parsed["is_blocked"].(bool)
	reason := stringField(parsed, "reason")
	rawPrice := stringField(parsed, "price")
	currency := stringField(parsed, "currency")
	result.Confidence = clampConfidence(parsed["confidence"])

	if blocked {
		result.Status = domain.ExtractionBlocked
		result.BlockedSignal = true
		if reason != "" {
			result.BlockedReason = reason
		} else {
			result.BlockedReason = "blocked_detected"
		}
		result.Debug["raw_text"] = stringField(parsed, "raw_text")
		return result, true
	}

	if rawPrice == "" || rawPrice == "null" {
		result.Debug["reason"] = reason
		return result, true
	}

	merged := rawPrice
	if currency != "" {
		merged = currency + " " + rawPrice
	}
	structured := price.Parse(merged, fallbackCurrency)
	if structured == nil || structured.Numeric <= 0 {
		result.PriceRaw = rawPrice
		result.Debug["reason"] = "unparseable_price"
		return result, true
	}

	result.Status = domain.ExtractionOK
	result.PriceRaw = rawPrice
	result.Price = structured
	result.Debug["reason"] = reason
	return result, true
}

// Run captures a screenshot and asks the provider for the buy-box price.
// Collaborator failures degrade to no_price; they never propagate as errors.
func (s *VisionStage) Run(ctx context.Context, url, fallbackCurrency string) domain.ExtractionResult {
	noPrice := func(reason string) domain.ExtractionResult {
		return domain.ExtractionResult{
			Status: domain.ExtractionNoPrice,
			Method: domain.MethodVision,
			Debug:  map[string]any{"source": domain.MethodVision, "reason": reason},
		}
	}

	if s.provider == nil {
		return noPrice("missing_api_key")
	}

	shot, err := s.shooter.Screenshot(ctx, url, fallbackCurrency)
	if err != nil {
		return noPrice("screenshot_failed: " + err.Error())
	}
	if len(shot.Image) == 0 {
		return noPrice("empty_image")
	}

	raw, err := s.provider.Invoke(ctx, visionPrompt, shot.Image)
	if err != nil {
		return noPrice("provider_error: " + err.Error())
	}

	result, ok := normalizeVisionOutput(raw, fallbackCurrency)
	if !ok {
		result.Debug["reason"] = "invalid_model_output"
	}
	result.HTTPStatus = shot.HTTPStatus
	result.PageTitle = shot.PageTitle
	result.FinalURL = shot.FinalURL
	result.Debug["provider"] = s.provider.Name()
	result.Debug["model"] = s.provider.Model()
	return result
}
