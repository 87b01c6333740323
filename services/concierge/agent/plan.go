// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the plan-execution engine behind the sales
// concierge. A language model proposes an action plan as JSON; this
// package normalizes and validates the proposal, repairs it under
// semantic guardrails when it is malformed, resolves step parameters
// against session state and prior results, executes the steps through
// the tool registry, and phrases the final user-facing response.
//
// The model is never trusted: every plan is checked against the tool
// catalog before any step runs, repairs may not change what the plan
// does, and identifiers are only ever taken from real tool results or
// the catalog, never invented.
package agent

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Step is one tool invocation inside a plan.
type Step struct {
	// Action names a tool in the registry.
	Action string `json:"action"`

	// Params are the raw arguments as proposed; placeholder values are
	// substituted by the resolver before dispatch.
	Params map[string]any `json:"params"`
}

// Plan is an action plan accepted by the validator.
//
// Description:
//
//	The planner proposes plans as JSON objects with this shape. Intent
//	is a short free-text description of what the user wants, Steps are
//	executed strictly in order, and ResponseStyle hints the tone of the
//	final reply. NeedsSideEffects records whether the plan touches
//	tools at all; when the proposal omits it, it defaults to true
//	exactly when Steps is non-empty.
type Plan struct {
	Intent           string `json:"intent"`
	Steps            []Step `json:"steps"`
	ResponseStyle    string `json:"response_style"`
	NeedsSideEffects bool   `json:"needs_side_effects"`
}

// StepResult records the outcome of one executed step.
//
// Params is absent when the action named no tool (there was nothing to
// resolve). Result is always serialized, null on failure, so trace
// consumers can index results positionally.
type StepResult struct {
	Step    string         `json:"step"`
	Success bool           `json:"success"`
	Params  map[string]any `json:"params,omitempty"`
	Result  any            `json:"result"`
	Error   string         `json:"error,omitempty"`
}

// ExecutionTrace is the full per-turn audit record returned to API
// callers alongside the response text.
type ExecutionTrace struct {
	Plan             *Plan        `json:"plan"`
	ValidationPassed bool         `json:"validation_passed"`
	ValidationErrors []string     `json:"validation_errors"`
	ExecutionSteps   []StepResult `json:"execution_steps"`
	FinalResult      any          `json:"final_result,omitempty"`
	GovernanceUsed   bool         `json:"governance_used"`
	GovernanceFixes  []string     `json:"governance_fixes,omitempty"`
	SmallTalk        bool         `json:"small_talk,omitempty"`
}

// parseErrorIntent marks a proposal whose text never decoded as JSON.
// Plans carrying it also carry _parse_error, which the validator
// rejects so the repair path can reconstruct the plan from the raw
// completion.
const parseErrorIntent = "Parse error - needs governance fix"

// DecodePlan converts a raw plan mapping into a typed Plan. Unknown
// keys are dropped. When the mapping has no needs_side_effects key the
// field defaults to true exactly when steps is non-empty.
func DecodePlan(raw map[string]any) (*Plan, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	if _, ok := raw["needs_side_effects"]; !ok {
		plan.NeedsSideEffects = len(plan.Steps) > 0
	}
	// A plan with no steps has no side effects, whatever it claims.
	if len(plan.Steps) == 0 {
		plan.NeedsSideEffects = false
	}
	return &plan, nil
}

// NormalizeCompletion strips the prose and markdown fencing language
// models wrap JSON in: leading chatter before the first "{" or "```"
// line, the fence itself, and anything after the last "}".
func NormalizeCompletion(raw string) string {
	text := strings.TrimSpace(raw)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "```") {
			text = strings.Join(lines[i:], "\n")
			break
		}
	}

	if strings.HasPrefix(text, "```") {
		fenced := strings.Split(text, "\n")[1:]
		if n := len(fenced); n > 0 && strings.TrimSpace(fenced[n-1]) == "```" {
			fenced = fenced[:n-1]
		}
		text = strings.Join(fenced, "\n")
	}

	if i := strings.LastIndex(text, "}"); i >= 0 {
		text = text[:i+1]
	}
	return strings.TrimSpace(text)
}

// successfulSteps filters a result list down to the steps that ran to
// completion.
func successfulSteps(steps []StepResult) []StepResult {
	var ok []StepResult
	for _, s := range steps {
		if s.Success {
			ok = append(ok, s)
		}
	}
	return ok
}

// asText coerces a decoded JSON value to a string. Numbers and bools
// are formatted rather than dropped; anything else becomes "".
func asText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// truncate caps s at max runes.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
