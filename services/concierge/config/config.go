// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads service configuration from the environment and the
// embedded commerce rules document.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Provider constants for supported LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// ValidProviders contains the set of valid provider names.
var ValidProviders = []string{ProviderGemini, ProviderOpenAI, ProviderOllama}

// Timeouts and retry policy for upstream LLM calls. One retry, fixed
// sleep, no backoff ladder. Plan generation is interactive; a caller
// waiting longer than this has already given up.
const (
	LLMRequestTimeout = 15 * time.Second
	LLMMaxRetries     = 1
	LLMRetrySleep     = 500 * time.Millisecond
)

// Per-minute request budgets enforced by the HTTP rate-limit middleware.
const (
	AssistRequestsPerMinute  = 30
	AdminRequestsPerMinute   = 20
	DefaultRequestsPerMinute = 100
)

// ServiceConfig holds the concierge service's startup configuration.
//
// Description:
//
//	Everything the server needs that is not a commerce rule: network
//	port, storage location, auth key, and which LLM backs the planner
//	and responder. Loaded once at startup from COMMERCE_* environment
//	variables.
//
// Thread Safety: Immutable after LoadServiceConfig; safe for concurrent use.
type ServiceConfig struct {
	// Port is the HTTP listen port. COMMERCE_PORT, default 8000.
	Port int

	// DataDir is the BadgerDB directory holding catalog rows, session
	// state, and traces. COMMERCE_DATA_DIR, default ~/.aleutian/commerce.
	DataDir string

	// APIKey guards the HTTP surface. Empty means auth is disabled,
	// which is the expected mode for local development.
	APIKey string

	// Provider selects the LLM backend: "gemini", "openai", "ollama".
	// COMMERCE_LLM_PROVIDER, default gemini.
	Provider string

	// Model is the provider-specific model name. COMMERCE_LLM_MODEL,
	// with a per-provider default when unset.
	Model string

	// RulesFile optionally overrides the embedded commerce rules with
	// an on-disk YAML document. When set, the file is also watched for
	// changes and reloaded live. COMMERCE_RULES_FILE.
	RulesFile string
}

// defaultModelFor returns the default model name for a provider.
func defaultModelFor(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderOllama:
		return "llama3"
	default:
		return ""
	}
}

// isValidProvider checks if a provider name is valid.
func isValidProvider(provider string) bool {
	for _, p := range ValidProviders {
		if provider == p {
			return true
		}
	}
	return false
}

// LoadServiceConfig reads the service configuration from the environment.
//
// # Description
//
// Reads COMMERCE_PORT, COMMERCE_DATA_DIR, COMMERCE_API_KEY,
// COMMERCE_LLM_PROVIDER, COMMERCE_LLM_MODEL, and COMMERCE_RULES_FILE,
// applying defaults for anything unset. Provider names are validated
// here so a typo fails at startup rather than on the first request.
//
// # Outputs
//
//   - *ServiceConfig: The resolved configuration. Never nil on success.
//   - error: Non-nil on an unparseable port or unknown provider.
func LoadServiceConfig() (*ServiceConfig, error) {
	cfg := &ServiceConfig{
		Port:      8000,
		APIKey:    os.Getenv("COMMERCE_API_KEY"),
		Provider:  ProviderGemini,
		RulesFile: os.Getenv("COMMERCE_RULES_FILE"),
	}

	if raw := os.Getenv("COMMERCE_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("config: invalid COMMERCE_PORT %q", raw)
		}
		cfg.Port = port
	}

	cfg.DataDir = os.Getenv("COMMERCE_DATA_DIR")
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: COMMERCE_DATA_DIR unset and home directory unavailable: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".aleutian", "commerce")
	}

	if provider := os.Getenv("COMMERCE_LLM_PROVIDER"); provider != "" {
		if !isValidProvider(provider) {
			return nil, fmt.Errorf("config: invalid COMMERCE_LLM_PROVIDER %q (valid: %v)", provider, ValidProviders)
		}
		cfg.Provider = provider
	}

	cfg.Model = os.Getenv("COMMERCE_LLM_MODEL")
	if cfg.Model == "" {
		cfg.Model = defaultModelFor(cfg.Provider)
	}

	return cfg, nil
}
