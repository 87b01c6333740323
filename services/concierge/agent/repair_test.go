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
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRepairer(t *testing.T, client *fakeLLM) *Repairer {
	t.Helper()
	r, err := NewRepairer(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return r
}

func twoStepPlan() map[string]any {
	return map[string]any{
		"intent": "browse products and check stock",
		"steps": []any{
			step("recommend_products", map[string]any{"category": "Fashion"}),
			step("check_inventory", nil),
		},
	}
}

func TestRepair_AcceptsFaithfulFix(t *testing.T) {
	client := &fakeLLM{responses: []string{
		`{"intent": "browse products and check stock", "steps": [
			{"action": "recommend_products", "params": {"category": "Fashion"}},
			{"action": "check_inventory", "params": {}}
		], "response_style": "professional"}`,
	}}
	r := newTestRepairer(t, client)

	fixed, err := r.Repair(context.Background(), twoStepPlan(), "raw")
	require.NoError(t, err)
	require.Equal(t, "professional", fixed["response_style"])
	require.Len(t, fixed["steps"], 2)
}

func TestRepair_NormalizesFencedOutput(t *testing.T) {
	client := &fakeLLM{responses: []string{
		"Here is the corrected plan:\n```json\n" +
			`{"intent": "browse products and check stock", "steps": [` +
			`{"action": "recommend_products", "params": {"category": "Fashion"}},` +
			`{"action": "check_inventory", "params": {}}` +
			`], "response_style": "professional"}` + "\n```\nDone.",
	}}
	r := newTestRepairer(t, client)

	fixed, err := r.Repair(context.Background(), twoStepPlan(), "raw")
	require.NoError(t, err)
	require.Equal(t, "browse products and check stock", fixed["intent"])
}

func TestRepair_RejectsAddedStep(t *testing.T) {
	client := &fakeLLM{responses: []string{
		`{"intent": "browse products and check stock", "steps": [
			{"action": "recommend_products", "params": {"category": "Fashion"}},
			{"action": "check_inventory", "params": {}},
			{"action": "apply_offers", "params": {"user_id": "u", "cart_items": []}}
		], "response_style": "professional"}`,
	}}
	r := newTestRepairer(t, client)

	_, err := r.Repair(context.Background(), twoStepPlan(), "raw")
	var sv *SemanticViolation
	require.ErrorAs(t, err, &sv)
	require.Contains(t, sv.Reason, "step count changed from 2 to 3")
}

func TestRepair_RejectsRenamedAction(t *testing.T) {
	client := &fakeLLM{responses: []string{
		`{"intent": "browse products and check stock", "steps": [
			{"action": "recommend_products", "params": {"category": "Fashion"}},
			{"action": "get_user_profile", "params": {"user_id": "u"}}
		], "response_style": "professional"}`,
	}}
	r := newTestRepairer(t, client)

	_, err := r.Repair(context.Background(), twoStepPlan(), "raw")
	var sv *SemanticViolation
	require.ErrorAs(t, err, &sv)
	require.Contains(t, sv.Reason, "actions changed from")
	require.Contains(t, sv.Reason, "check_inventory")
	require.Contains(t, sv.Reason, "get_user_profile")
}

func TestRepair_RejectsIntentDrift(t *testing.T) {
	client := &fakeLLM{responses: []string{
		`{"intent": "delete the entire account", "steps": [
			{"action": "recommend_products", "params": {"category": "Fashion"}},
			{"action": "check_inventory", "params": {}}
		], "response_style": "professional"}`,
	}}
	r := newTestRepairer(t, client)

	_, err := r.Repair(context.Background(), twoStepPlan(), "raw")
	var sv *SemanticViolation
	require.ErrorAs(t, err, &sv)
	require.Contains(t, sv.Reason, "intent changed significantly")
}

func TestRepair_AllowsIntentRewording(t *testing.T) {
	// One surviving token ("products") is enough.
	client := &fakeLLM{responses: []string{
		`{"intent": "products availability", "steps": [
			{"action": "recommend_products", "params": {"category": "Fashion"}},
			{"action": "check_inventory", "params": {}}
		], "response_style": "professional"}`,
	}}
	r := newTestRepairer(t, client)

	_, err := r.Repair(context.Background(), twoStepPlan(), "raw")
	require.NoError(t, err)
}

func TestRepair_ShortIntentsMayChange(t *testing.T) {
	// Two tokens or fewer carry too little meaning to guard.
	invalid := map[string]any{
		"intent": "check stock",
		"steps":  []any{step("check_inventory", nil)},
	}
	client := &fakeLLM{responses: []string{
		`{"intent": "inventory question", "steps": [{"action": "check_inventory", "params": {}}], "response_style": "professional"}`,
	}}
	r := newTestRepairer(t, client)

	_, err := r.Repair(context.Background(), invalid, "raw")
	require.NoError(t, err)
}

func TestRepair_StripsSentinelBookkeeping(t *testing.T) {
	sentinel := map[string]any{
		"intent":         parseErrorIntent,
		"steps":          []any{},
		"response_style": "professional",
		"_parse_error":   "unexpected end of JSON input",
		"_raw_response":  "{\"intent\": \"check",
	}
	client := &fakeLLM{responses: []string{
		`{"intent": "check stock", "steps": [{"action": "check_inventory", "params": {}}],
		  "response_style": "professional", "_parse_error": "unexpected end of JSON input"}`,
	}}
	r := newTestRepairer(t, client)

	fixed, err := r.Repair(context.Background(), sentinel, "raw")
	require.NoError(t, err)
	require.NotContains(t, fixed, "_parse_error")
	require.NotContains(t, fixed, "_raw_response")
	require.Len(t, fixed["steps"], 1)
}

func TestRepair_InvalidJSONTruncatedInError(t *testing.T) {
	client := &fakeLLM{responses: []string{strings.Repeat("still not json ", 25)}}
	r := newTestRepairer(t, client)

	_, err := r.Repair(context.Background(), twoStepPlan(), "raw")
	require.Error(t, err)
	require.Contains(t, err.Error(), "governance produced invalid JSON")
	require.Less(t, len(err.Error()), 280)
}

func TestRepair_UpstreamErrorWrapped(t *testing.T) {
	client := &fakeLLM{errs: []error{errors.New("429 resource exhausted")}}
	r := newTestRepairer(t, client)

	_, err := r.Repair(context.Background(), twoStepPlan(), "raw")
	require.Error(t, err)
	require.Contains(t, err.Error(), "governance completion failed")
	var sv *SemanticViolation
	require.False(t, errors.As(err, &sv))
}

func TestCaptureInvariants(t *testing.T) {
	t.Run("non-mapping yields nothing to enforce", func(t *testing.T) {
		_, enforce := captureInvariants("not a plan")
		require.False(t, enforce)
	})

	t.Run("parse sentinel yields nothing to enforce", func(t *testing.T) {
		_, enforce := captureInvariants(map[string]any{
			"intent": parseErrorIntent, "steps": []any{}, "_parse_error": "x",
		})
		require.False(t, enforce)
	})

	t.Run("real plan captured", func(t *testing.T) {
		inv, enforce := captureInvariants(twoStepPlan())
		require.True(t, enforce)
		require.Equal(t, 2, inv.stepCount)
		require.True(t, inv.actions["recommend_products"])
		require.True(t, inv.actions["check_inventory"])
		require.Equal(t, "browse products and check stock", inv.intent)
	})
}
