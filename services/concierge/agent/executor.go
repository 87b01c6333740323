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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/session"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/tools"
)

// Executor runs a validated plan: load context, then per step resolve,
// dispatch, record, then phrase the response and persist the turn.
//
// Description:
//
//	Steps run strictly in order; a step may read earlier results from
//	the running context but failures never abort the run. No single
//	tool invocation can terminate a turn, and neither can a failed
//	response phrasing or a failed session write; both degrade.
//
// Thread Safety: safe for concurrent use across different sessions.
// Concurrent runs for the same (user, session) pair must be serialized
// by the caller; the session record is read-modify-written per run.
type Executor struct {
	registry  *tools.Registry
	resolver  *Resolver
	responder *Responder
	sessions  *session.Store
	logger    *slog.Logger
}

func NewExecutor(registry *tools.Registry, resolver *Resolver, responder *Responder, sessions *session.Store, logger *slog.Logger) (*Executor, error) {
	if registry == nil {
		return nil, errors.New("agent: executor requires a tool registry")
	}
	if resolver == nil {
		return nil, errors.New("agent: executor requires a resolver")
	}
	if responder == nil {
		return nil, errors.New("agent: executor requires a responder")
	}
	if sessions == nil {
		return nil, errors.New("agent: executor requires a session store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:  registry,
		resolver:  resolver,
		responder: responder,
		sessions:  sessions,
		logger:    logger,
	}, nil
}

// ExecuteRequest carries one validated plan and its conversation
// identity.
type ExecuteRequest struct {
	Plan        *Plan
	SessionID   string
	UserID      string
	UserMessage string

	// Context optionally supplies preloaded session context. Nil means
	// load from the session store; a load failure starts the run with
	// an empty context rather than failing it.
	Context map[string]any

	// Events receives step lifecycle notifications. Nil disables.
	Events EventSink
}

// ExecuteResult is the outcome of one full run.
type ExecuteResult struct {
	Response  string         `json:"response"`
	Steps     []StepResult   `json:"execution_steps"`
	Context   map[string]any `json:"context"`
	SmallTalk bool           `json:"small_talk,omitempty"`
}

// Execute runs the plan to completion. It never returns an error:
// every failure mode is absorbed into per-step results, a fallback
// response, or a logged persistence warning.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) *ExecuteResult {
	if req.Plan == nil {
		req.Plan = fallbackPlan()
	}
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "agent.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("plan.intent", req.Plan.Intent),
		attribute.Int("plan.steps", len(req.Plan.Steps)),
	)
	events := req.Events
	if events == nil {
		events = NopSink{}
	}

	contextMap := req.Context
	if contextMap == nil {
		loaded, err := e.sessions.Get(ctx, req.UserID, req.SessionID)
		if err != nil {
			e.logger.Warn("session context load failed, starting empty",
				"user_id", req.UserID, "session_id", req.SessionID, "error", err)
			loaded = map[string]any{}
		}
		contextMap = loaded
	}

	events.PlanStarted(req.Plan)
	executorRuns.Inc()

	steps := make([]StepResult, 0, len(req.Plan.Steps))
	for i, step := range req.Plan.Steps {
		events.StepStarted(i, step.Action)
		result := e.runStep(ctx, step, req, contextMap, steps)
		steps = append(steps, result)
		if result.Success {
			contextMap[fmt.Sprintf("step_%d_result", i)] = result.Result
		}
		events.StepFinished(i, result)
	}

	reply := e.respond(ctx, req, steps, contextMap)
	events.ResponseReady(reply.Text)

	e.persist(ctx, req, steps, reply.Text, contextMap)

	return &ExecuteResult{
		Response:  reply.Text,
		Steps:     steps,
		Context:   contextMap,
		SmallTalk: reply.SmallTalk,
	}
}

// runStep resolves and dispatches one step, converting every failure
// into a recorded result.
func (e *Executor) runStep(ctx context.Context, step Step, req ExecuteRequest, contextMap map[string]any, previous []StepResult) StepResult {
	start := time.Now()

	resolved, err := e.resolver.Resolve(ctx, step.Action, step.Params, req.SessionID, req.UserID, contextMap, previous)
	if err != nil {
		e.logger.Warn("step resolution failed", "action", step.Action, "error", err)
		stepExecutions.WithLabelValues(step.Action, "failed").Inc()
		return StepResult{Step: step.Action, Params: step.Params, Error: err.Error()}
	}

	result, err := e.registry.Dispatch(ctx, step.Action, resolved)
	stepDuration.WithLabelValues(step.Action).Observe(time.Since(start).Seconds())
	if err != nil {
		stepExecutions.WithLabelValues(step.Action, "failed").Inc()
		if errors.Is(err, tools.ErrUnknownTool) {
			return StepResult{Step: step.Action, Error: fmt.Sprintf("Tool '%s' not found", step.Action)}
		}
		e.logger.Warn("step execution failed", "action", step.Action, "error", err)
		return StepResult{Step: step.Action, Params: resolved, Error: err.Error()}
	}

	stepExecutions.WithLabelValues(step.Action, "ok").Inc()
	return StepResult{Step: step.Action, Success: true, Params: resolved, Result: result}
}

// respond phrases the reply, degrading to a deterministic composition
// when the phrasing call fails.
func (e *Executor) respond(ctx context.Context, req ExecuteRequest, steps []StepResult, contextMap map[string]any) Reply {
	reply, err := e.responder.Generate(ctx, req.UserMessage, req.Plan, steps, contextMap)
	if err == nil {
		return reply
	}
	e.logger.Warn("response generation failed, composing fallback", "error", err)
	responseFallbacks.Inc()
	return Reply{Text: fallbackResponse(req.Plan, steps, err)}
}

// fallbackResponse composes a minimal reply from the first successful
// inventory result, or a generic acknowledgment.
func fallbackResponse(plan *Plan, steps []StepResult, cause error) string {
	successful := successfulSteps(steps)
	if len(successful) == 0 {
		return fmt.Sprintf("I completed your request, but I couldn't generate a detailed response due to an internal error (%v). Please try again.", cause)
	}
	for _, s := range successful {
		if s.Step != "check_inventory" {
			continue
		}
		result, ok := s.Result.(map[string]any)
		if !ok {
			continue
		}
		if available, _ := result["available"].(bool); available {
			return fmt.Sprintf("The product is available, with quantity %v at location %v.",
				result["quantity"], result["location"])
		}
		return "I'm sorry, but this product is currently out of stock."
	}
	return fmt.Sprintf("I've processed your request about '%s', and all steps completed successfully, but I couldn't generate a richer response.", plan.Intent)
}

// persist appends the turn to bounded history and writes the context
// back. The session store enforces the history caps on write.
func (e *Executor) persist(ctx context.Context, req ExecuteRequest, steps []StepResult, response string, contextMap map[string]any) {
	contextMap["last_message"] = req.UserMessage
	contextMap["last_intent"] = req.Plan.Intent

	history, _ := contextMap["message_history"].([]any)
	contextMap["message_history"] = append(history, map[string]any{
		"user":     req.UserMessage,
		"intent":   req.Plan.Intent,
		"response": response,
	})

	traces, _ := contextMap["trace_history"].([]any)
	contextMap["trace_history"] = append(traces, map[string]any{
		"intent": req.Plan.Intent,
		"steps":  steps,
	})

	if err := e.sessions.Put(ctx, req.UserID, req.SessionID, contextMap); err != nil {
		e.logger.Warn("session persist failed",
			"user_id", req.UserID, "session_id", req.SessionID, "error", err)
	}
}
