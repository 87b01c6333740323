// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// geminiFallbackModels are tried in order when the configured model
// hits a rate limit or quota rejection mid-request.
var geminiFallbackModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-flash-lite",
}

// GeminiClient implements Client against the Gemini REST API.
//
// Description:
//
//	Uses the generateContent endpoint directly rather than an SDK so
//	the request budget, fallback order, and error surfaces stay under
//	our control. When the configured model is rate limited, the client
//	walks a fixed candidate list before giving up.
//
// Thread Safety: GeminiClient is safe for concurrent use.
type GeminiClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewGeminiClient creates a GeminiClient from environment variables.
//
// Description:
//
//	Reads GEMINI_API_KEY and GEMINI_MODEL from the environment.
//	Defaults to "gemini-2.5-flash" if GEMINI_MODEL is not set.
//
// Outputs:
//   - *GeminiClient: The configured client.
//   - error: Non-nil if GEMINI_API_KEY is missing.
func NewGeminiClient() (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is missing (GEMINI_API_KEY)")
	}

	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-2.5-flash"
		slog.Info("GEMINI_MODEL not set, defaulting to gemini-2.5-flash")
	}

	slog.Info("Initializing Gemini client", slog.String("model", model))

	return NewGeminiClientWithConfig(apiKey, model, "https://generativelanguage.googleapis.com/v1beta"), nil
}

// NewGeminiClientWithModel creates a GeminiClient for an explicit model,
// reading only the API key from the environment.
func NewGeminiClientWithModel(model string) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is missing (GEMINI_API_KEY)")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return NewGeminiClientWithConfig(apiKey, model, "https://generativelanguage.googleapis.com/v1beta"), nil
}

// NewGeminiClientWithConfig creates a GeminiClient with explicit
// configuration. Useful for tests with mock servers.
func NewGeminiClientWithConfig(apiKey, model, baseURL string) *GeminiClient {
	return &GeminiClient{
		httpClient: &http.Client{Timeout: RequestTimeout},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// geminiRequest is the request payload for the generateContent API.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// geminiContent represents a content block in the Gemini API.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart represents a part of a content block.
type geminiPart struct {
	Text string `json:"text,omitempty"`
}

// geminiGenerationConfig controls generation behavior.
type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// geminiResponse is the response from the generateContent API.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	Error         *geminiError      `json:"error,omitempty"`
}

// geminiCandidate represents a candidate response.
type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// geminiUsage contains token usage information.
type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// geminiError represents an API error.
type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ModelName implements Client.ModelName.
func (g *GeminiClient) ModelName() string {
	return g.model
}

// Generate implements Client.Generate.
func (g *GeminiClient) Generate(ctx context.Context, prompt, systemPrompt string, params GenerationParams) (string, error) {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})
	return g.Chat(ctx, messages, params)
}

// Chat implements Client.Chat.
//
// # Description
//
// Sends the conversation to each candidate model in turn. A rate-limit
// rejection moves on to the next candidate; any other failure returns
// immediately. The configured model is always tried first.
func (g *GeminiClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	req := g.buildRequest(messages, params)

	var lastErr error
	for _, model := range g.modelCandidates(params.ModelOverride) {
		text, err := g.doGenerate(ctx, model, req)
		if err == nil {
			if model != g.model && params.ModelOverride == "" {
				slog.Info("Gemini model fallback succeeded",
					slog.String("configured", g.model),
					slog.String("used", model),
				)
			}
			return text, nil
		}
		lastErr = err
		if !IsRateLimited(err) {
			return "", err
		}
		slog.Warn("Gemini model rate limited, trying next candidate",
			slog.String("model", model),
			slog.String("error", SafeLogString(err.Error())),
		)
	}
	return "", fmt.Errorf("gemini: all model candidates failed: %w", lastErr)
}

// modelCandidates returns the fallback order for one request. An
// explicit override disables fallback entirely.
func (g *GeminiClient) modelCandidates(override string) []string {
	if override != "" {
		return []string{override}
	}
	candidates := []string{g.model}
	for _, name := range geminiFallbackModels {
		if name != g.model {
			candidates = append(candidates, name)
		}
	}
	return candidates
}

// buildRequest converts messages and params to the Gemini wire format.
func (g *GeminiClient) buildRequest(messages []Message, params GenerationParams) geminiRequest {
	req := geminiRequest{}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			req.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: msg.Content}},
			}
		case "assistant":
			req.Contents = append(req.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		default:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		}
	}

	if cfg := buildGenConfig(params); cfg != nil {
		req.GenerationConfig = cfg
	}
	return req
}

// buildGenConfig maps GenerationParams onto the wire config, returning
// nil when every field is unset.
func buildGenConfig(params GenerationParams) *geminiGenerationConfig {
	if params.Temperature == nil && params.TopP == nil && params.TopK == nil && params.MaxOutputTokens == nil {
		return nil
	}
	return &geminiGenerationConfig{
		Temperature:     params.Temperature,
		TopP:            params.TopP,
		TopK:            params.TopK,
		MaxOutputTokens: params.MaxOutputTokens,
	}
}

// doGenerate performs one generateContent call against one model.
func (g *GeminiClient) doGenerate(ctx context.Context, model string, req geminiRequest) (string, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("gemini: marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("gemini: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	start := time.Now()
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("gemini: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("gemini: API error [%d] %s: %s",
			apiResp.Error.Code, apiResp.Error.Status, SafeLogString(apiResp.Error.Message))
	}

	if len(apiResp.Candidates) == 0 {
		return "", fmt.Errorf("gemini: returned no candidates: %w", ErrEmptyResponse)
	}

	var textParts []string
	for _, part := range apiResp.Candidates[0].Content.Parts {
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}

	result := strings.Join(textParts, "")
	if result == "" {
		return "", fmt.Errorf("gemini: model %s: %w", model, ErrEmptyResponse)
	}

	slog.Debug("Received Gemini response",
		slog.String("model", model),
		slog.Int("response_len", len(result)),
		slog.String("finish_reason", apiResp.Candidates[0].FinishReason),
		slog.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}
