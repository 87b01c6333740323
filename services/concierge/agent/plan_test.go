// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCompletion(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "bare json passes through",
			raw:  `{"intent": "browse"}`,
			want: `{"intent": "browse"}`,
		},
		{
			name: "leading prose dropped",
			raw:  "Sure! Here is your plan:\n{\"intent\": \"browse\"}",
			want: `{"intent": "browse"}`,
		},
		{
			name: "fenced block unwrapped",
			raw:  "```json\n{\"intent\": \"browse\"}\n```",
			want: `{"intent": "browse"}`,
		},
		{
			name: "prose then fence then trailing prose",
			raw:  "Here you go:\n```\n{\"intent\": \"browse\"}\n```\nLet me know if you need more.",
			want: `{"intent": "browse"}`,
		},
		{
			name: "trailing chatter after closing brace dropped",
			raw:  "{\"intent\": \"browse\"} Hope that helps!",
			want: `{"intent": "browse"}`,
		},
		{
			name: "multiline object survives",
			raw:  "{\n  \"intent\": \"browse\",\n  \"steps\": []\n}",
			want: "{\n  \"intent\": \"browse\",\n  \"steps\": []\n}",
		},
		{
			name: "no json at all left untouched",
			raw:  "I cannot help with that.",
			want: "I cannot help with that.",
		},
		{
			name: "whitespace trimmed",
			raw:  "  \n {\"intent\": \"x\"} \n ",
			want: `{"intent": "x"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizeCompletion(tt.raw))
		})
	}
}

func TestDecodePlan_DefaultsSideEffectsFromSteps(t *testing.T) {
	plan, err := DecodePlan(map[string]any{
		"intent":         "browse products",
		"steps":          []any{map[string]any{"action": "recommend_products", "params": map[string]any{"category": "Fashion"}}},
		"response_style": "professional",
	})
	require.NoError(t, err)
	require.True(t, plan.NeedsSideEffects)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, "recommend_products", plan.Steps[0].Action)
	require.Equal(t, "Fashion", plan.Steps[0].Params["category"])
}

func TestDecodePlan_EmptyStepsNeverHaveSideEffects(t *testing.T) {
	plan, err := DecodePlan(map[string]any{
		"intent":             "small_talk",
		"steps":              []any{},
		"response_style":     "casual",
		"needs_side_effects": true,
	})
	require.NoError(t, err)
	require.False(t, plan.NeedsSideEffects)
}

func TestDecodePlan_ExplicitFalsePreserved(t *testing.T) {
	plan, err := DecodePlan(map[string]any{
		"intent":             "browse",
		"steps":              []any{map[string]any{"action": "recommend_products", "params": map[string]any{}}},
		"response_style":     "professional",
		"needs_side_effects": false,
	})
	require.NoError(t, err)
	require.False(t, plan.NeedsSideEffects)
}

func TestDecodePlan_DropsUnknownKeys(t *testing.T) {
	plan, err := DecodePlan(map[string]any{
		"intent":         "browse",
		"steps":          []any{},
		"response_style": "professional",
		"_parse_error":   "unexpected end of input",
		"confidence":     0.93,
	})
	require.NoError(t, err)
	require.Equal(t, "browse", plan.Intent)
}

func TestDecodePlan_RejectsMistypedFields(t *testing.T) {
	_, err := DecodePlan(map[string]any{
		"intent":         42,
		"steps":          []any{},
		"response_style": "professional",
	})
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "ab", truncate("abc", 2))
	require.Equal(t, "héll", truncate("héllo", 4))
}
