package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AnthropicProvider implements Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewAnthropicProvider(apiKey, apiBase, defaultModel string) *AnthropicProvider {
	if apiBase == "" {
		apiBase = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	// The Messages API takes the system prompt as a top-level field.
	var system string
	msgs := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		msgs = append(msgs, m)
	}

	maxTokens := 1024
	if v, ok := req.Options[OptMaxTokens].(int); ok && v > 0 {
		maxTokens = v
	}
	body := map[string]interface{}{
		"model":      model,
		"messages":   msgs,
		"max_tokens": maxTokens,
	}
	if system != "" {
		body["system"] = system
	}
	if v, ok := req.Options[OptTemperature]; ok {
		body["temperature"] = v
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("anthropic: marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/v1/messages", bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("anthropic: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", p.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("anthropic: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return nil, &HTTPError{
				Status:     resp.StatusCode,
				Body:       fmt.Sprintf("anthropic: %s", string(respBody)),
				RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}

		var aResp anthropicResponse
		if err := json.NewDecoder(resp.Body).Decode(&aResp); err != nil {
			return nil, fmt.Errorf("anthropic: decode response: %w", err)
		}

		result := &ChatResponse{FinishReason: "stop"}
		for _, block := range aResp.Content {
			if block.Type == "text" {
				result.Content += block.Text
			}
		}
		if aResp.StopReason == "max_tokens" {
			result.FinishReason = "length"
		}
		if aResp.Usage != nil {
			result.Usage = &Usage{
				PromptTokens:     aResp.Usage.InputTokens,
				CompletionTokens: aResp.Usage.OutputTokens,
				TotalTokens:      aResp.Usage.InputTokens + aResp.Usage.OutputTokens,
			}
		}
		return result, nil
	})
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
