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
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func recommendationResult(items ...map[string]any) StepResult {
	list := make([]map[string]any, 0, len(items))
	list = append(list, items...)
	return StepResult{Step: "recommend_products", Success: true, Result: list}
}

func menAndWomenRecs() StepResult {
	return recommendationResult(
		map[string]any{"product_id": "PROD-002", "name": "Men's Shirt", "category": "Men's Fashion", "base_price": 339.0},
		map[string]any{"product_id": "PROD-007", "name": "Women's Jeans", "category": "Women's Fashion", "base_price": 1199.0},
	)
}

func TestResolve_SubstitutesIdentityPlaceholders(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)

	params := map[string]any{
		"user_id":    "{{user_id}}",
		"session_id": "extracted_from_context",
	}
	resolved, err := r.Resolve(context.Background(), "get_session_context", params, "sess-9", "user-3", map[string]any{}, nil)
	require.NoError(t, err)
	require.Equal(t, "user-3", resolved["user_id"])
	require.Equal(t, "sess-9", resolved["session_id"])
}

func TestResolveMapping_PlaceholderFallsBackToContextKey(t *testing.T) {
	contextMap := map[string]any{"budget": 1500.0}
	params := map[string]any{"budget": "extracted_from_context"}
	substituted := resolveMapping(params, "s", "u", contextMap)
	require.Equal(t, 1500.0, substituted["budget"])
}

func TestResolveMapping_LiteralsPassThrough(t *testing.T) {
	contextMap := map[string]any{}
	params := map[string]any{
		"category": "Fashion",
		"count":    3.0,
		"flag":     true,
		"missing":  "extracted_from_context",
	}
	resolved := resolveMapping(params, "s", "u", contextMap)
	require.Equal(t, "Fashion", resolved["category"])
	require.Equal(t, 3.0, resolved["count"])
	require.Equal(t, true, resolved["flag"])
	// No identity hint, no context entry: the literal survives.
	require.Equal(t, "extracted_from_context", resolved["missing"])
}

func TestResolveMapping_RecursesIntoNestedStructures(t *testing.T) {
	params := map[string]any{
		"filter": map[string]any{
			"user_ref": "{{user_id}}",
		},
		"items": []any{
			map[string]any{"session_key": "extracted_from_context"},
			"extracted_from_context",
			7.0,
		},
	}
	resolved := resolveMapping(params, "sess-1", "user-1", map[string]any{})

	filter := resolved["filter"].(map[string]any)
	require.Equal(t, "user-1", filter["user_ref"])

	items := resolved["items"].([]any)
	nested := items[0].(map[string]any)
	require.Equal(t, "sess-1", nested["session_key"])
	// Bare strings inside sequences are data, not placeholders.
	require.Equal(t, "extracted_from_context", items[1])
	require.Equal(t, 7.0, items[2])
}

func TestResolve_IsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	ctx := context.Background()
	previous := []StepResult{menAndWomenRecs()}
	contextMap := map[string]any{"personalization": map[string]any{"gender": "male"}}

	params := map[string]any{
		"product_name": "Men's Shirt",
		"size":         "M",
	}
	first, err := r.Resolve(ctx, "check_inventory", params, "s", "u", contextMap, previous)
	require.NoError(t, err)

	second, err := r.Resolve(ctx, "check_inventory", first, "s", "u", contextMap, previous)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestResolve_InputMappingNeverMutated(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)

	params := map[string]any{"user_id": "{{user_id}}", "session_id": "{{session_id}}"}
	_, err := r.Resolve(context.Background(), "get_session_context", params, "s1", "u1", map[string]any{}, nil)
	require.NoError(t, err)
	require.Equal(t, "{{user_id}}", params["user_id"])
	require.Equal(t, "{{session_id}}", params["session_id"])
}

func TestResolve_InjectsStoredGender(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	contextMap := map[string]any{"personalization": map[string]any{"gender": "female"}}

	resolved, err := r.Resolve(context.Background(), "recommend_products",
		map[string]any{"category": "Fashion"}, "s", "u", contextMap, nil)
	require.NoError(t, err)
	require.Equal(t, "female", resolved["gender"])
}

func TestResolve_ExplicitGenderWins(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	contextMap := map[string]any{"personalization": map[string]any{"gender": "female"}}

	resolved, err := r.Resolve(context.Background(), "recommend_products",
		map[string]any{"category": "Fashion", "gender": "male"}, "s", "u", contextMap, nil)
	require.NoError(t, err)
	require.Equal(t, "male", resolved["gender"])
}

func TestResolve_NoPersonalizationNoInjection(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)

	resolved, err := r.Resolve(context.Background(), "recommend_products",
		map[string]any{"category": "Fashion"}, "s", "u", map[string]any{}, nil)
	require.NoError(t, err)
	require.NotContains(t, resolved, "gender")
}

func TestResolve_ProductNameMatchesRecommendation(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	previous := []StepResult{menAndWomenRecs()}

	resolved, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{"product_name": "Men's Shirt"}, "s", "u", map[string]any{}, previous)
	require.NoError(t, err)
	require.Equal(t, "PROD-002", resolved["product_id"])
	require.NotContains(t, resolved, "product_name")
}

func TestResolve_ProductNameSubstringMatch(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	previous := []StepResult{menAndWomenRecs()}

	resolved, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{"product_name": "jeans"}, "s", "u", map[string]any{}, previous)
	require.NoError(t, err)
	require.Equal(t, "PROD-007", resolved["product_id"])
}

func TestResolve_ProductNameFallsBackToCatalog(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)

	resolved, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{"product_name": "Women's Saree"}, "s", "u", map[string]any{}, nil)
	require.NoError(t, err)
	require.Equal(t, "PROD-019", resolved["product_id"])
}

func TestResolve_UnknownNameNeverFabricates(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)

	_, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{"product_name": "Quantum Socks"}, "s", "u", map[string]any{}, nil)
	require.ErrorIs(t, err, ErrUnresolvedIdentifier)
}

func TestResolve_NoIdentifiersTakesLatestRecommendation(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	previous := []StepResult{
		recommendationResult(map[string]any{"product_id": "PROD-011", "name": "Women's Jacket"}),
		{Step: "get_user_profile", Success: true, Result: map[string]any{"user_id": "u"}},
		recommendationResult(map[string]any{"product_id": "PROD-003", "name": "Women's Casual Dress"}),
	}

	resolved, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{}, "s", "u", map[string]any{}, previous)
	require.NoError(t, err)
	require.Equal(t, "PROD-003", resolved["product_id"])
}

func TestResolve_SkipsFailedRecommendations(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	previous := []StepResult{
		recommendationResult(map[string]any{"product_id": "PROD-011", "name": "Women's Jacket"}),
		{Step: "recommend_products", Success: false, Error: "boom"},
	}

	resolved, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{}, "s", "u", map[string]any{}, previous)
	require.NoError(t, err)
	require.Equal(t, "PROD-011", resolved["product_id"])
}

func TestResolve_NoIdentifiersNoRecommendationsFails(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)

	_, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{}, "s", "u", map[string]any{}, nil)
	require.ErrorIs(t, err, ErrUnresolvedIdentifier)
	require.Equal(t, "cannot infer identifier, re-run recommendation first", err.Error())
}

func TestResolve_RecommendedIdentifierUntouched(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	previous := []StepResult{menAndWomenRecs()}

	resolved, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{"product_id": "PROD-007"}, "s", "u", map[string]any{}, previous)
	require.NoError(t, err)
	require.Equal(t, "PROD-007", resolved["product_id"])
}

func TestResolve_SlugReconcilesNameLikeIdentifier(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	previous := []StepResult{menAndWomenRecs()}

	resolved, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{"product_id": "Men's Shirt"}, "s", "u", map[string]any{}, previous)
	require.NoError(t, err)
	require.Equal(t, "PROD-002", resolved["product_id"])
}

func TestResolve_UnreconcilableIdentifierDefaultsToFirst(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	previous := []StepResult{menAndWomenRecs()}

	resolved, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{"product_id": "PROD-999"}, "s", "u", map[string]any{}, previous)
	require.NoError(t, err)
	require.Equal(t, "PROD-002", resolved["product_id"])
}

func TestResolve_SuppliedIdentifierKeptWithoutRecommendations(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)

	resolved, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{"product_id": "PROD-999"}, "s", "u", map[string]any{}, nil)
	require.NoError(t, err)
	require.Equal(t, "PROD-999", resolved["product_id"])
}

func TestResolve_RecommendationsSurviveJSONRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)
	// After persistence the result list decodes as []any of mappings.
	previous := []StepResult{{
		Step:    "recommend_products",
		Success: true,
		Result: []any{
			map[string]any{"product_id": "PROD-009", "name": "Women's Skirt"},
		},
	}}

	resolved, err := r.Resolve(context.Background(), "check_inventory",
		map[string]any{}, "s", "u", map[string]any{}, previous)
	require.NoError(t, err)
	require.Equal(t, "PROD-009", resolved["product_id"])
}

func TestResolve_StripsUndeclaredParameters(t *testing.T) {
	h := newTestHarness(t)
	r := h.newResolver(t)

	resolved, err := r.Resolve(context.Background(), "recommend_products",
		map[string]any{"category": "Fashion", "price_range": "500-1000", "confidence": 0.8},
		"s", "u", map[string]any{}, nil)
	require.NoError(t, err)
	require.Equal(t, "Fashion", resolved["category"])
	require.Equal(t, "500-1000", resolved["price_range"])
	require.NotContains(t, resolved, "confidence")
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PROD-002", "002"},
		{"Men's Shirt", "men-s-shirt"},
		{"  Women's   Jeans  ", "women-s-jeans"},
		{"PROD_002", "002"},
		{"002", "002"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, slugify(tt.in), "input: %q", tt.in)
	}
}
