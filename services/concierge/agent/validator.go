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
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
)

// Validator checks raw plan proposals against the tool catalog and
// synthesizes steps the user's message demands but the proposal lacks.
// Invalid proposals get one guardrailed repair attempt; proposals that
// stay invalid are replaced by a safe fallback plan so execution always
// has something well-formed to run.
//
// Description:
//
//	Validation order: intent enforcement over the user message first,
//	then structural checks over the (possibly augmented) proposal,
//	then at most one repair, then a re-check of the repaired plan.
//	The validator never touches storage; its only external call is
//	the repair completion.
//
// Thread Safety: safe for concurrent use.
type Validator struct {
	rules    *config.CommerceRules
	repairer *Repairer
	logger   *slog.Logger
}

// NewValidator wires a validator. repairer may be nil, in which case
// invalid plans go straight to the fallback.
func NewValidator(rules *config.CommerceRules, repairer *Repairer, logger *slog.Logger) (*Validator, error) {
	if rules == nil {
		return nil, fmt.Errorf("agent: validator requires commerce rules")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{rules: rules, repairer: repairer, logger: logger}, nil
}

// Validation is the outcome of validating one raw proposal.
type Validation struct {
	// Valid reports whether Plan came from the proposal (possibly
	// repaired) rather than the fallback.
	Valid bool

	// Plan is always usable: the accepted plan, or the fallback when
	// validation failed.
	Plan *Plan

	// Errors lists everything wrong with the proposal, including why
	// repair did not save it. Empty when Valid.
	Errors []string

	// Repaired reports whether the accepted plan went through repair.
	Repaired bool

	// RepairedFrom lists the structural errors the repair corrected.
	// Set only when Repaired.
	RepairedFrom []string
}

// Validate checks one raw proposal. rawText is the original completion
// text; repair runs only when it is non-empty, so re-checks of already
// repaired plans pass "" and cannot recurse.
func (v *Validator) Validate(ctx context.Context, rawPlan any, rawText, userMessage string) Validation {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "agent.validate",
		oteltrace.WithAttributes(attribute.Bool("plan.recheck", rawText == "")),
	)
	defer span.End()

	if m, ok := rawPlan.(map[string]any); ok {
		v.enforceIntent(m, userMessage)
	}

	errs := v.structuralErrors(rawPlan)

	if len(errs) > 0 && rawText != "" && v.repairer != nil {
		fixed, err := v.repairer.Repair(ctx, rawPlan, rawText)
		switch {
		case err == nil:
			rechecked := v.Validate(ctx, fixed, "", userMessage)
			if rechecked.Valid {
				rechecked.Repaired = true
				rechecked.RepairedFrom = errs
				planValidations.WithLabelValues("repaired").Inc()
				v.logger.Info("plan repaired", "original_errors", len(errs))
				return rechecked
			}
			for _, e := range rechecked.Errors {
				errs = append(errs, "Governance fix failed: "+e)
			}
		case isSemanticViolation(err):
			errs = append(errs, "Governance agent violated constraints: "+err.Error())
		default:
			errs = append(errs, "Governance agent error: "+err.Error())
		}
	}

	if len(errs) > 0 {
		planValidations.WithLabelValues("fallback").Inc()
		span.SetAttributes(attribute.Int("plan.structural_errors", len(errs)))
		v.logger.Warn("plan rejected, using fallback", "errors", errs)
		return Validation{Plan: fallbackPlan(), Errors: errs}
	}

	plan, err := DecodePlan(rawPlan.(map[string]any))
	if err != nil {
		errs = append(errs, fmt.Sprintf("Schema validation error: %v", err))
		planValidations.WithLabelValues("fallback").Inc()
		return Validation{Plan: fallbackPlan(), Errors: errs}
	}
	planValidations.WithLabelValues("valid").Inc()
	return Validation{Valid: true, Plan: plan}
}

// enforceIntent synthesizes steps the user's message clearly calls for
// but the proposal omitted. Availability questions get a trailing
// check_inventory step whose identifiers the resolver infers; browse
// requests get a leading recommend_products step targeting the
// inferred demographic's category. Both additions are idempotent.
func (v *Validator) enforceIntent(m map[string]any, userMessage string) {
	steps, ok := m["steps"].([]any)
	if !ok {
		return
	}

	if isAvailabilityRequest(v.rules, userMessage) && !hasAction(steps, "check_inventory") {
		steps = append(steps, map[string]any{
			"action": "check_inventory",
			"params": map[string]any{},
		})
		m["steps"] = steps
		stepsSynthesized.WithLabelValues("check_inventory").Inc()
		v.logger.Info("synthesized inventory step from availability signals")
	}

	if isBrowseRequest(v.rules, userMessage) && !hasAction(steps, "recommend_products") {
		category := v.rules.CategoryFor(inferGender(v.rules, userMessage))
		lead := map[string]any{
			"action": "recommend_products",
			"params": map[string]any{"category": category},
		}
		m["steps"] = append([]any{lead}, steps...)
		m["needs_side_effects"] = true
		stepsSynthesized.WithLabelValues("recommend_products").Inc()
		v.logger.Info("synthesized recommendation step from browse signals", "category", category)
	}
}

func hasAction(steps []any, action string) bool {
	for _, s := range steps {
		step, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if a, _ := step["action"].(string); a == action {
			return true
		}
	}
	return false
}

// structuralErrors runs the shape and catalog checks over a raw
// proposal and returns every problem found, in document order.
func (v *Validator) structuralErrors(raw any) []string {
	m, ok := raw.(map[string]any)
	if !ok {
		return []string{"Plan must be a dictionary"}
	}

	var errs []string
	if parseErr, ok := m["_parse_error"]; ok {
		errs = append(errs, fmt.Sprintf("Invalid JSON in planner response: %v", parseErr))
	}
	for _, field := range []string{"intent", "steps", "response_style"} {
		if _, ok := m[field]; !ok {
			errs = append(errs, "Missing required field: "+field)
		}
	}

	rawSteps, ok := m["steps"]
	if !ok {
		return errs
	}
	steps, ok := rawSteps.([]any)
	if !ok {
		return append(errs, "Steps must be a list")
	}
	for i, s := range steps {
		errs = append(errs, v.stepErrors(i, s)...)
	}
	return errs
}

func (v *Validator) stepErrors(i int, raw any) []string {
	step, ok := raw.(map[string]any)
	if !ok {
		return []string{fmt.Sprintf("Step %d must be a dictionary", i)}
	}

	var errs []string
	action, _ := step["action"].(string)
	if _, ok := step["action"]; !ok {
		errs = append(errs, fmt.Sprintf("Step %d missing required field: action", i))
	} else if !v.rules.HasTool(action) {
		errs = append(errs, fmt.Sprintf("Step %d has invalid action '%v'. Available: %s",
			i, step["action"], strings.Join(v.rules.ToolNames(), ", ")))
	}

	rawParams, ok := step["params"]
	if !ok {
		return append(errs, fmt.Sprintf("Step %d missing required field: params", i))
	}
	params, ok := rawParams.(map[string]any)
	if !ok {
		return append(errs, fmt.Sprintf("Step %d params must be a dictionary", i))
	}

	if v.rules.HasTool(action) {
		var missing []string
		for _, p := range v.rules.RequiredParams(action) {
			if _, ok := params[p]; !ok {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Sprintf("Step %d (action: %s) missing required parameters: %s",
				i, action, strings.Join(missing, ", ")))
		}
	}
	return errs
}

// fallbackPlan is what execution receives when validation failed
// outright: no steps, nothing to resolve, a response the responder
// phrases as an apology.
func fallbackPlan() *Plan {
	return &Plan{
		Intent:        "validation failed",
		Steps:         []Step{},
		ResponseStyle: "professional",
	}
}

func isSemanticViolation(err error) bool {
	var sv *SemanticViolation
	return errors.As(err, &sv)
}
