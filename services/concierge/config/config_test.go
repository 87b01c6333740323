// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadServiceConfig_Defaults(t *testing.T) {
	t.Setenv("COMMERCE_PORT", "")
	t.Setenv("COMMERCE_DATA_DIR", t.TempDir())
	t.Setenv("COMMERCE_API_KEY", "")
	t.Setenv("COMMERCE_LLM_PROVIDER", "")
	t.Setenv("COMMERCE_LLM_MODEL", "")
	t.Setenv("COMMERCE_RULES_FILE", "")

	cfg, err := LoadServiceConfig()
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Port)
	}
	if cfg.Provider != ProviderGemini {
		t.Errorf("Provider = %q, want gemini", cfg.Provider)
	}
	if cfg.Model != "gemini-2.5-flash" {
		t.Errorf("Model = %q, want gemini-2.5-flash", cfg.Model)
	}
	if cfg.APIKey != "" {
		t.Errorf("APIKey = %q, want empty (open mode)", cfg.APIKey)
	}
}

func TestLoadServiceConfig_Overrides(t *testing.T) {
	t.Setenv("COMMERCE_PORT", "9100")
	t.Setenv("COMMERCE_DATA_DIR", "/tmp/commerce-test")
	t.Setenv("COMMERCE_API_KEY", "secret")
	t.Setenv("COMMERCE_LLM_PROVIDER", "ollama")
	t.Setenv("COMMERCE_LLM_MODEL", "granite4:micro-h")

	cfg, err := LoadServiceConfig()
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Port)
	}
	if cfg.DataDir != "/tmp/commerce-test" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("APIKey = %q, want secret", cfg.APIKey)
	}
	if cfg.Provider != ProviderOllama {
		t.Errorf("Provider = %q, want ollama", cfg.Provider)
	}
	if cfg.Model != "granite4:micro-h" {
		t.Errorf("Model = %q", cfg.Model)
	}
}

func TestLoadServiceConfig_InvalidPort(t *testing.T) {
	t.Setenv("COMMERCE_PORT", "not-a-port")
	if _, err := LoadServiceConfig(); err == nil {
		t.Error("expected error for invalid port")
	}

	t.Setenv("COMMERCE_PORT", "70000")
	if _, err := LoadServiceConfig(); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestLoadServiceConfig_InvalidProvider(t *testing.T) {
	t.Setenv("COMMERCE_DATA_DIR", t.TempDir())
	t.Setenv("COMMERCE_LLM_PROVIDER", "watson")
	if _, err := LoadServiceConfig(); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestWatchRules_InitialLoadAndOverride(t *testing.T) {
	ResetCommerceRules()
	t.Cleanup(ResetCommerceRules)

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	override := []byte(`
tools:
  get_user_profile:
    required: [user_id]
intents:
  browse_signals: [find]
  availability_signals: [size]
loyalty_tiers:
  bronze: 0.0
categories:
  default: Everything
`)
	if err := os.WriteFile(path, override, 0o644); err != nil {
		t.Fatalf("writing override: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := WatchRules(ctx, path, nil); err != nil {
		t.Fatalf("WatchRules: %v", err)
	}

	rules, err := GetCommerceRules(ctx)
	if err != nil {
		t.Fatalf("GetCommerceRules: %v", err)
	}
	if len(rules.Tools) != 1 {
		t.Errorf("expected override catalog with 1 tool, got %d", len(rules.Tools))
	}
	if rules.Categories.Default != "Everything" {
		t.Errorf("categories.default = %q, want Everything", rules.Categories.Default)
	}
}

func TestWatchRules_MissingFile(t *testing.T) {
	ResetCommerceRules()
	t.Cleanup(ResetCommerceRules)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WatchRules(ctx, filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err == nil {
		t.Error("expected error for missing rules file")
	}
}
