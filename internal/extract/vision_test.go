package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/price-tracker/internal/domain"
)

func TestSelectProviderPrecedence(t *testing.T) {
	// Both keys: OpenRouter wins without an explicit preference.
	p := SelectProvider(ProviderConfig{OpenRouterAPIKey: "a", OpenAIAPIKey: "b"})
	require.NotNil(t, p)
	assert.Equal(t, "openrouter", p.Name())

	// Explicit preference with a matching key wins.
	p = SelectProvider(ProviderConfig{Preferred: "openai", OpenRouterAPIKey: "a", OpenAIAPIKey: "b"})
	require.NotNil(t, p)
	assert.Equal(t, "openai", p.Name())

	// Preference without a key falls back to whichever key exists.
	p = SelectProvider(ProviderConfig{Preferred: "openai", OpenRouterAPIKey: "a"})
	require.NotNil(t, p)
	assert.Equal(t, "openrouter", p.Name())

	assert.Nil(t, SelectProvider(ProviderConfig{}))
}

func TestSelectProviderDefaultModels(t *testing.T) {
	p := SelectProvider(ProviderConfig{OpenRouterAPIKey: "a"})
	require.NotNil(t, p)
	assert.Equal(t, defaultOpenRouterModel, p.Model())

	p = SelectProvider(ProviderConfig{OpenAIAPIKey: "b", Model: "custom"})
	require.NotNil(t, p)
	assert.Equal(t, "custom", p.Model())
}

func TestNormalizeVisionOutputOK(t *testing.T) {
	res, ok := normalizeVisionOutput(`{"price":"329.00","currency":"EUR","confidence":0.97,"is_blocked":false,"reason":"buy box","raw_text":"329,00 €"}`, "")
	require.True(t, ok)
	assert.Equal(t, domain.ExtractionOK, res.Status)
	require.NotNil(t, res.Price)
	assert.Equal(t, 329.0, res.Price.Numeric)
	assert.Equal(t, "EUR", res.Price.Currency)
	assert.Equal(t, 0.97, res.Confidence)
}

func TestNormalizeVisionOutputToleratesProse(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"price\":\"12.50\",\"currency\":\"USD\",\"confidence\":0.9,\"is_blocked\":false}\n```"
	res, ok := normalizeVisionOutput(raw, "")
	require.True(t, ok)
	assert.Equal(t, domain.ExtractionOK, res.Status)
	assert.Equal(t, 12.5, res.Price.Numeric)
}

func TestNormalizeVisionOutputBlocked(t *testing.T) {
	res, ok := normalizeVisionOutput(`{"price":null,"is_blocked":true,"reason":"captcha wall","confidence":0.99}`, "EUR")
	require.True(t, ok)
	assert.Equal(t, domain.ExtractionBlocked, res.Status)
	assert.True(t, res.BlockedSignal)
	assert.Equal(t, "captcha wall", res.BlockedReason)
}

func TestNormalizeVisionOutputNoPrice(t *testing.T) {
	res, ok := normalizeVisionOutput(`{"price":null,"is_blocked":false,"reason":"multiple prices","confidence":0.4}`, "EUR")
	require.True(t, ok)
	assert.Equal(t, domain.ExtractionNoPrice, res.Status)
	assert.Nil(t, res.Price)
}

func TestNormalizeVisionOutputConfidenceClamped(t *testing.T) {
	res, ok := normalizeVisionOutput(`{"price":"10","currency":"EUR","confidence":3.5,"is_blocked":false}`, "")
	require.True(t, ok)
	assert.Equal(t, 1.0, res.Confidence)

	res, ok = normalizeVisionOutput(`{"price":"10","currency":"EUR","confidence":-2,"is_blocked":false}`, "")
	require.True(t, ok)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestNormalizeVisionOutputGarbage(t *testing.T) {
	_, ok := normalizeVisionOutput("no json here", "EUR")
	assert.False(t, ok)
}

type stubShooter struct {
	result ScreenshotResult
	err    error
}

func (s *stubShooter) Screenshot(ctx context.Context, url, currencyCookie string) (ScreenshotResult, error) {
	return s.result, s.err
}

type stubProvider struct {
	out string
	err error
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-model" }
func (s *stubProvider) Invoke(ctx context.Context, prompt string, image []byte) (string, error) {
	return s.out, s.err
}

func TestVisionStageRun(t *testing.T) {
	stage := NewVisionStage(
		&stubShooter{result: ScreenshotResult{Image: []byte("png"), HTTPStatus: 200, PageTitle: "Kettle", FinalURL: "https://www.amazon.de/dp/B0ABCD1234"}},
		&stubProvider{out: `{"price":"329.00","currency":"EUR","confidence":0.95,"is_blocked":false}`},
	)
	res := stage.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234", "EUR")

	assert.Equal(t, domain.ExtractionOK, res.Status)
	assert.Equal(t, domain.MethodVision, res.Method)
	assert.Equal(t, 200, res.HTTPStatus)
	assert.Equal(t, "Kettle", res.PageTitle)
}

func TestVisionStageDegradesOnFailures(t *testing.T) {
	// No provider configured.
	stage := NewVisionStage(&stubShooter{}, nil)
	res := stage.Run(context.Background(), "u", "EUR")
	assert.Equal(t, domain.ExtractionNoPrice, res.Status)

	// Screenshot failure.
	stage = NewVisionStage(&stubShooter{err: errors.New("boom")}, &stubProvider{})
	res = stage.Run(context.Background(), "u", "EUR")
	assert.Equal(t, domain.ExtractionNoPrice, res.Status)

	// Provider failure.
	stage = NewVisionStage(
		&stubShooter{result: ScreenshotResult{Image: []byte("png")}},
		&stubProvider{err: errors.New("rate limited")},
	)
	res = stage.Run(context.Background(), "u", "EUR")
	assert.Equal(t, domain.ExtractionNoPrice, res.Status)
}
