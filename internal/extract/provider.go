package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// VisionProvider invokes one vision-capable model backend with a prompt and
// a screenshot, returning the raw model output text. Provider choice is
// configuration, not core logic.
type VisionProvider interface {
	Name() string
	Model() string
	Invoke(ctx context.Context, prompt string, image []byte) (string, error)
}

// ProviderConfig selects and parameterizes a vision backend.
type ProviderConfig struct {
	Preferred        string // "openrouter" or "openai"; empty means key-based precedence
	Model            string
	OpenRouterAPIKey string
	OpenAIAPIKey     string
	HTTPClient       Fetcher
}

const (
	defaultOpenRouterModel = "google/gemini-3-flash-preview"
	defaultOpenAIModel     = "gpt-4.1-mini"
)

// SelectProvider resolves the configured provider. Precedence is
// deterministic: an explicit preference with a matching key wins, then
// OpenRouter, then OpenAI. Returns nil when no key is configured.
func SelectProvider(cfg ProviderConfig) VisionProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	openRouter := func() VisionProvider {
		model := cfg.Model
		if model == "" {
			model = defaultOpenRouterModel
		}
		return &openRouterProvider{apiKey: cfg.OpenRouterAPIKey, model: model, client: client}
	}
	openAI := func() VisionProvider {
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return &openAIProvider{apiKey: cfg.OpenAIAPIKey, model: model, client: client}
	}

	switch cfg.Preferred {
	case "openai":
		if cfg.OpenAIAPIKey != "" {
			return openAI()
		}
	case "openrouter":
		if cfg.OpenRouterAPIKey != "" {
			return openRouter()
		}
	}
	if cfg.OpenRouterAPIKey != "" {
		return openRouter()
	}
	if cfg.OpenAIAPIKey != "" {
		return openAI()
	}
	return nil
}

type openRouterProvider struct {
	apiKey string
	model  string
	client Fetcher
}

func (p *openRouterProvider) Name() string  { return "openrouter" }
func (p *openRouterProvider) Model() string { return p.model }

func (p *openRouterProvider) Invoke(ctx context.Context, prompt string, image []byte) (string, error) {
	payload := map[string]any{
		"model": p.model,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
				{"type": "image_url", "image_url": map[string]string{
					"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
		"temperature": 0,
	}
	body, err := postJSON(ctx, p.client, "https://openrouter.ai/api/v1/chat/completions", p.apiKey, payload)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openrouter: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openrouter: empty choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

type openAIProvider struct {
	apiKey string
	model  string
	client Fetcher
}

func (p *openAIProvider) Name() string  { return "openai" }
func (p *openAIProvider) Model() string { return p.model }

func (p *openAIProvider) Invoke(ctx context.Context, prompt string, image []byte) (string, error) {
	payload := map[string]any{
		"model": p.model,
		"input": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": prompt},
				{"type": "input_image", "image_url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)},
			},
		}},
	}
	body, err := postJSON(ctx, p.client, "https://api.openai.com/v1/responses", p.apiKey, payload)
	if err != nil {
		return "", err
	}

	var parsed struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai: %s", parsed.Error.Message)
	}
	if parsed.OutputText != "" {
		return parsed.OutputText, nil
	}
	var buf bytes.Buffer
	for _, item := range parsed.Output {
		for _, content := range item.Content {
			if content.Text != "" {
				if buf.Len() > 0 {
					buf.WriteByte('\n')
				}
				buf.WriteString(content.Text)
			}
		}
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("openai: empty output")
	}
	return buf.String(), nil
}

func postJSON(ctx context.Context, client Fetcher, url, apiKey string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
