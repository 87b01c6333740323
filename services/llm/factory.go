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

import "fmt"

// New creates a retry-wrapped Client for the given provider.
//
// # Description
//
//	Central construction point for all LLM providers. Every client
//	returned here carries the single-retry policy, so callers never
//	have to remember to wrap one themselves.
//
// # Inputs
//
//   - provider: one of "gemini", "openai", "ollama"
//   - model: provider model identifier, e.g. "gemini-2.5-flash"
//
// # Outputs
//
//   - Client: ready-to-use client
//   - error: unknown provider or missing credentials
func New(provider, model string) (Client, error) {
	var (
		inner Client
		err   error
	)
	switch provider {
	case "gemini":
		inner, err = NewGeminiClientWithModel(model)
	case "openai":
		inner, err = NewOpenAIClient(model)
	case "ollama":
		inner, err = NewOllamaClient(model, "")
	default:
		return nil, fmt.Errorf("llm: unknown provider %q (want gemini, openai, or ollama)", provider)
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(inner), nil
}
