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
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainClient adapts a langchaingo model to the Client interface.
//
// Description:
//
//	OpenAI and Ollama go through langchaingo rather than hand-rolled
//	REST clients; their APIs are stable and the library's coverage is
//	good. Gemini stays native (see GeminiClient) because the
//	rate-limit model fallback needs raw error visibility.
//
// Thread Safety: LangchainClient is safe for concurrent use.
type LangchainClient struct {
	model    llms.Model
	provider string
	name     string
}

// NewOpenAIClient creates a Client backed by the OpenAI chat API.
//
// Reads OPENAI_API_KEY from the environment and fails fast when it is
// missing so misconfiguration surfaces at startup, not mid-request.
func NewOpenAIClient(model string) (*LangchainClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is missing (OPENAI_API_KEY)")
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
		openai.WithHTTPClient(&http.Client{Timeout: RequestTimeout}),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: creating client: %w", err)
	}
	return &LangchainClient{model: m, provider: "openai", name: model}, nil
}

// NewOllamaClient creates a Client backed by a local Ollama server.
func NewOllamaClient(model, serverURL string) (*LangchainClient, error) {
	if serverURL == "" {
		serverURL = ResolveOllamaURL()
	}

	m, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(serverURL),
		ollama.WithHTTPClient(&http.Client{Timeout: RequestTimeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: creating client: %w", err)
	}
	return &LangchainClient{model: m, provider: "ollama", name: model}, nil
}

// ResolveOllamaURL resolves the Ollama server URL from the environment,
// defaulting to the standard local port.
func ResolveOllamaURL() string {
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		return url
	}
	return "http://localhost:11434"
}

// ModelName implements Client.ModelName.
func (c *LangchainClient) ModelName() string {
	return c.name
}

// Generate implements Client.Generate.
func (c *LangchainClient) Generate(ctx context.Context, prompt, systemPrompt string, params GenerationParams) (string, error) {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})
	return c.Chat(ctx, messages, params)
}

// Chat implements Client.Chat.
func (c *LangchainClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		role := llms.ChatMessageTypeHuman
		switch msg.Role {
		case "system":
			role = llms.ChatMessageTypeSystem
		case "assistant":
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(msg.Content)},
		})
	}

	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*params.TopP)))
	}
	if params.TopK != nil {
		opts = append(opts, llms.WithTopK(*params.TopK))
	}
	if params.MaxOutputTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxOutputTokens))
	}
	if params.ModelOverride != "" {
		opts = append(opts, llms.WithModel(params.ModelOverride))
	}

	resp, err := c.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("%s: generate content: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", fmt.Errorf("%s: %w", c.provider, ErrEmptyResponse)
	}
	return resp.Choices[0].Content, nil
}
