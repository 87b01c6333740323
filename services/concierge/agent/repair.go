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
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCommerce/services/llm"
)

// Repairer delegates a structurally invalid plan to a completion call
// that may fix syntax only. Three invariants are captured before the
// call and re-checked after: step count, the set of action names, and
// the substance of the intent. A repair that changes any of them is
// discarded with a SemanticViolation; an unconstrained repair could
// silently change what the user asked for.
//
// Thread Safety: safe for concurrent use.
type Repairer struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewRepairer(client llm.Client, logger *slog.Logger) (*Repairer, error) {
	if client == nil {
		return nil, fmt.Errorf("agent: repairer requires an llm client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{llm: client, logger: logger}, nil
}

// Repair attempts exactly one completion call to fix the invalid plan.
// There is no second attempt and no recursion; the caller falls back
// to a safe plan when this fails.
func (r *Repairer) Repair(ctx context.Context, invalid any, originalText string) (map[string]any, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "agent.repair")
	defer span.End()

	inv, enforce := captureInvariants(invalid)

	encoded, err := json.MarshalIndent(invalid, "", "  ")
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", invalid))
	}

	out, err := r.llm.Generate(ctx, governanceFixPrompt(string(encoded)), governanceSystemPrompt, llm.DefaultPlannerParams())
	if err != nil {
		repairAttempts.WithLabelValues("upstream_error").Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("governance completion failed: %w", err)
	}

	normalized := NormalizeCompletion(out)
	var fixed map[string]any
	if err := json.Unmarshal([]byte(normalized), &fixed); err != nil {
		repairAttempts.WithLabelValues("invalid_json").Inc()
		return nil, fmt.Errorf("governance produced invalid JSON: %s", truncate(normalized, 200))
	}
	// The model sometimes echoes the sentinel's bookkeeping fields.
	delete(fixed, "_parse_error")
	delete(fixed, "_raw_response")

	if enforce {
		if err := inv.check(fixed); err != nil {
			repairAttempts.WithLabelValues("semantic_violation").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "semantic violation")
			r.logger.Warn("repair discarded", "violation", err)
			return nil, err
		}
	}
	repairAttempts.WithLabelValues("accepted").Inc()
	return fixed, nil
}

// planInvariants is what a repair must preserve.
type planInvariants struct {
	stepCount int
	actions   map[string]bool
	intent    string
}

// captureInvariants reads the invariants off an invalid plan. The
// second return is false when there is nothing real to preserve: the
// plan was not a mapping at all, or it is the parse sentinel whose
// empty step list reflects a decode failure rather than the proposal's
// actual structure. In that case the repaired plan is accepted as-is
// and re-validation is the only gate.
func captureInvariants(invalid any) (planInvariants, bool) {
	m, ok := invalid.(map[string]any)
	if !ok {
		return planInvariants{}, false
	}
	if _, parseFailed := m["_parse_error"]; parseFailed {
		return planInvariants{}, false
	}

	inv := planInvariants{
		intent:  asText(m["intent"]),
		actions: map[string]bool{},
	}
	if steps, ok := m["steps"].([]any); ok {
		inv.stepCount = len(steps)
		for _, a := range stepActions(steps) {
			inv.actions[a] = true
		}
	}
	return inv, true
}

func (inv planInvariants) check(fixed map[string]any) error {
	fixedSteps, _ := fixed["steps"].([]any)
	if len(fixedSteps) != inv.stepCount {
		return &SemanticViolation{Reason: fmt.Sprintf(
			"step count changed from %d to %d", inv.stepCount, len(fixedSteps))}
	}

	fixedActions := stepActions(fixedSteps)
	fixedSet := make(map[string]bool, len(fixedActions))
	for _, a := range fixedActions {
		fixedSet[a] = true
	}
	if !sameActionSet(inv.actions, fixedSet) {
		return &SemanticViolation{Reason: fmt.Sprintf(
			"actions changed from %v to %v", sortedKeys(inv.actions), sortedKeys(fixedSet))}
	}

	fixedIntent := asText(fixed["intent"])
	if inv.intent != "" && fixedIntent != "" {
		original := intentTokens(inv.intent)
		if len(original) > 2 && !anyTokenSurvives(original, intentTokens(fixedIntent)) {
			return &SemanticViolation{Reason: fmt.Sprintf(
				"intent changed significantly from '%s' to '%s'", inv.intent, fixedIntent)}
		}
	}
	return nil
}

func stepActions(steps []any) []string {
	var actions []string
	for _, s := range steps {
		step, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if a, ok := step["action"].(string); ok {
			actions = append(actions, a)
		}
	}
	return actions
}

func sameActionSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func intentTokens(intent string) map[string]bool {
	tokens := map[string]bool{}
	for _, t := range strings.Fields(strings.ToLower(intent)) {
		tokens[t] = true
	}
	return tokens
}

func anyTokenSurvives(original, fixed map[string]bool) bool {
	for t := range original {
		if fixed[t] {
			return true
		}
	}
	return false
}
