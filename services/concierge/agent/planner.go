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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
	"github.com/AleutianAI/AleutianCommerce/services/llm"
)

// Planner turns a user message plus session state into a raw plan
// proposal via one completion call.
//
// Thread Safety: safe for concurrent use; all state is read-only.
type Planner struct {
	llm    llm.Client
	rules  *config.CommerceRules
	logger *slog.Logger
}

func NewPlanner(client llm.Client, rules *config.CommerceRules, logger *slog.Logger) (*Planner, error) {
	if client == nil {
		return nil, fmt.Errorf("agent: planner requires an llm client")
	}
	if rules == nil {
		return nil, fmt.Errorf("agent: planner requires commerce rules")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{llm: client, rules: rules, logger: logger}, nil
}

// Proposal is the raw outcome of one planning request, before
// validation.
type Proposal struct {
	// RawPlan is the decoded proposal. When the completion never
	// decoded as JSON it is a sentinel plan carrying _parse_error and
	// a _raw_response excerpt, which validation rejects and repair
	// reconstructs.
	RawPlan map[string]any

	// RawText is the unmodified completion, kept so validation can
	// tell a first pass from a repair re-check.
	RawText string
}

// GeneratePlan requests a plan proposal for the user message. The
// error return is reserved for upstream completion failures; malformed
// plan text is not an error here, it is a proposal the validator will
// reject.
func (p *Planner) GeneratePlan(ctx context.Context, userMessage, sessionID, userID string, contextMap map[string]any) (*Proposal, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "agent.generate_plan")
	defer span.End()

	system := plannerSystemPrompt(p.rules)
	prompt := plannerUserPrompt(p.rules, userMessage, sessionID, userID, contextMap)

	out, err := p.llm.Generate(ctx, prompt, system, llm.DefaultPlannerParams())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}

	normalized := NormalizeCompletion(out)
	var raw map[string]any
	if err := json.Unmarshal([]byte(normalized), &raw); err != nil {
		p.logger.Warn("plan proposal is not valid JSON",
			"user_id", userID, "session_id", sessionID, "error", err)
		planParseFailures.Inc()
		span.SetAttributes(attribute.Bool("plan.parse_failed", true))
		raw = map[string]any{
			"intent":         parseErrorIntent,
			"steps":          []any{},
			"response_style": "professional",
			"_parse_error":   err.Error(),
			"_raw_response":  truncate(normalized, 500),
		}
	}
	return &Proposal{RawPlan: raw, RawText: out}, nil
}
