package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Provider and Embedder for OpenAI-compatible APIs
// (OpenAI, OpenRouter, local inference servers).
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	// OpenRouter model IDs require a provider prefix (e.g. "openai/gpt-4o-mini");
	// unprefixed names fall back to the configured default.
	if p.name == "openrouter" && !strings.Contains(model, "/") {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := map[string]interface{}{
		"model":    p.resolveModel(req.Model),
		"messages": req.Messages,
	}
	if v, ok := req.Options[OptMaxTokens]; ok {
		body["max_tokens"] = v
	}
	if v, ok := req.Options[OptTemperature]; ok {
		body["temperature"] = v
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, "/chat/completions", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var oaiResp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&oaiResp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
		}

		result := &ChatResponse{FinishReason: "stop"}
		if len(oaiResp.Choices) > 0 {
			result.Content = oaiResp.Choices[0].Message.Content
			if oaiResp.Choices[0].FinishReason != "" {
				result.FinishReason = oaiResp.Choices[0].FinishReason
			}
		}
		if oaiResp.Usage != nil {
			result.Usage = &Usage{
				PromptTokens:     oaiResp.Usage.PromptTokens,
				CompletionTokens: oaiResp.Usage.CompletionTokens,
				TotalTokens:      oaiResp.Usage.TotalTokens,
			}
		}
		return result, nil
	})
}

// Embed computes embeddings via the /embeddings endpoint.
func (p *OpenAIProvider) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if model == "" {
		model = "text-embedding-3-small"
	}
	body := map[string]interface{}{
		"model": model,
		"input": inputs,
	}

	return RetryDo(ctx, p.retryConfig, func() ([][]float32, error) {
		respBody, err := p.doRequest(ctx, "/embeddings", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var embResp openAIEmbeddingResponse
		if err := json.NewDecoder(respBody).Decode(&embResp); err != nil {
			return nil, fmt.Errorf("%s: decode embeddings: %w", p.name, err)
		}
		if len(embResp.Data) != len(inputs) {
			return nil, fmt.Errorf("%s: got %d embeddings for %d inputs", p.name, len(embResp.Data), len(inputs))
		}

		result := make([][]float32, len(embResp.Data))
		for _, d := range embResp.Data {
			if d.Index < 0 || d.Index >= len(result) {
				return nil, fmt.Errorf("%s: embedding index %d out of range", p.name, d.Index)
			}
			result[d.Index] = d.Embedding
		}
		return result, nil
	})
}

func (p *OpenAIProvider) doRequest(ctx context.Context, path string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", p.name, string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}
