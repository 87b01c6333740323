// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package concierge is the HTTP shell around the plan engine: the
// assist endpoint, the admin surface over the retail tables, and the
// middleware guarding both.
package concierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/agent"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/session"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/tools"
	"github.com/AleutianAI/AleutianCommerce/services/llm"
)

const tracerName = "services/concierge"

// Canned turn-level failure texts. Per-step diagnostics stay in the
// execution trace; the user sees only these.
const (
	planningFailedPrefix = "I encountered an error planning your request: "

	setupAttentionPrefix = "I couldn't process that request yet because something about the setup or data needs attention: "

	internalIssueReply = "I ran into an internal issue while processing your request. Please try again in a moment or check the admin console/logs for more details."
)

// UnknownUserError rejects assist turns for users the catalog has
// never seen. The handler maps it to 404.
type UnknownUserError struct {
	UserID string
}

func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("User '%s' not found in database. Please create the user via /admin/users or CSV upload before using the sales agent.", e.UserID)
}

// engine bundles the components derived from one rule document. A
// rules reload swaps the whole bundle at once, so a turn never mixes
// two rule versions.
type engine struct {
	rules     *config.CommerceRules
	registry  *tools.Registry
	planner   *agent.Planner
	validator *agent.Validator
	executor  *agent.Executor
}

// Service owns one fully wired plan engine plus the stores the HTTP
// surface exposes directly.
//
// Description:
//
//	AssistTurn is the engine's single entry point: it guards identity,
//	serializes turns per (user, session), runs plan -> validate ->
//	execute, and persists the execution trace. Everything else on the
//	type is thin store access for the admin and read endpoints.
//
// Thread Safety: safe for concurrent use. Turns for the same
// (user, session) pair are serialized internally; different pairs run
// concurrently.
type Service struct {
	cfg      *config.ServiceConfig
	catalog  *catalog.Store
	sessions *session.Store
	llm      llm.Client
	logger   *slog.Logger

	rulesSource func(context.Context) (*config.CommerceRules, error)

	engine    atomic.Pointer[engine]
	rebuildMu sync.Mutex

	mu        sync.Mutex
	turnLocks map[string]*sync.Mutex
}

// ServiceDeps are the externally owned collaborators a Service wires
// together. All fields except Logger and RulesSource are required.
type ServiceDeps struct {
	Config   *config.ServiceConfig
	Rules    *config.CommerceRules
	Catalog  *catalog.Store
	Sessions *session.Store
	LLM      llm.Client
	Logger   *slog.Logger

	// RulesSource, when set, is consulted on each request so that a
	// rule file reload takes effect without a restart. Nil pins the
	// rules the service was built with.
	RulesSource func(context.Context) (*config.CommerceRules, error)
}

// NewService wires the engine: tool registry, planner, validator with
// its repairer, resolver, responder, executor.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Config == nil {
		return nil, errors.New("concierge: service requires config")
	}
	if deps.Rules == nil {
		return nil, errors.New("concierge: service requires commerce rules")
	}
	if deps.Catalog == nil {
		return nil, errors.New("concierge: service requires a catalog store")
	}
	if deps.Sessions == nil {
		return nil, errors.New("concierge: service requires a session store")
	}
	if deps.LLM == nil {
		return nil, errors.New("concierge: service requires an llm client")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:         deps.Config,
		catalog:     deps.Catalog,
		sessions:    deps.Sessions,
		llm:         deps.LLM,
		logger:      logger,
		rulesSource: deps.RulesSource,
		turnLocks:   make(map[string]*sync.Mutex),
	}
	eng, err := s.buildEngine(deps.Rules)
	if err != nil {
		return nil, err
	}
	s.engine.Store(eng)
	return s, nil
}

// buildEngine wires the rules-derived half of the service against one
// rule document.
func (s *Service) buildEngine(rules *config.CommerceRules) (*engine, error) {
	registry, err := tools.New(tools.Deps{
		Catalog:  s.catalog,
		Sessions: s.sessions,
		Rules:    rules,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("concierge: building tool registry: %w", err)
	}

	planner, err := agent.NewPlanner(s.llm, rules, s.logger)
	if err != nil {
		return nil, err
	}
	repairer, err := agent.NewRepairer(s.llm, s.logger)
	if err != nil {
		return nil, err
	}
	validator, err := agent.NewValidator(rules, repairer, s.logger)
	if err != nil {
		return nil, err
	}
	resolver, err := agent.NewResolver(s.catalog, rules, s.logger)
	if err != nil {
		return nil, err
	}
	responder, err := agent.NewResponder(s.llm, rules, s.logger)
	if err != nil {
		return nil, err
	}
	executor, err := agent.NewExecutor(registry, resolver, responder, s.sessions, s.logger)
	if err != nil {
		return nil, err
	}

	return &engine{
		rules:     rules,
		registry:  registry,
		planner:   planner,
		validator: validator,
		executor:  executor,
	}, nil
}

// currentEngine returns the engine bundle for this request, rebuilding
// it first when the rules source reports a new document. A source
// error or a failed rebuild keeps the bundle already in place.
func (s *Service) currentEngine(ctx context.Context) *engine {
	eng := s.engine.Load()
	if s.rulesSource == nil {
		return eng
	}
	rules, err := s.rulesSource(ctx)
	if err != nil {
		s.logger.Warn("rules source failed, keeping current engine", "error", err)
		return eng
	}
	if rules == nil || rules == eng.rules {
		return eng
	}

	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	if latest := s.engine.Load(); latest.rules == rules {
		return latest
	}
	rebuilt, err := s.buildEngine(rules)
	if err != nil {
		s.logger.Error("engine rebuild after rules change failed, keeping current engine", "error", err)
		return s.engine.Load()
	}
	s.engine.Store(rebuilt)
	s.logger.Info("Commerce rules changed, engine rebuilt")
	return rebuilt
}

// turnLock returns the mutex serializing one (user, session) pair.
// Locks are never evicted; a conversation costs one mutex.
func (s *Service) turnLock(userID, sessionID string) *sync.Mutex {
	key := userID + ":" + sessionID
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.turnLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.turnLocks[key] = lock
	}
	return lock
}

// AssistTurn runs one conversational turn end to end.
//
// Description:
//
//	Verifies the user exists, mints a session id when the request has
//	none, loads session context enriched with the user's profile and
//	personalization, then plans, validates (with one governance repair
//	attempt), executes, and persists the execution trace. Engine
//	degradation never surfaces as an error: planning and validation
//	failures come back as canned response text with the detail in the
//	trace. The error return is reserved for identity problems the
//	handler must map to an HTTP status.
//
// Inputs:
//
//	req - The turn. UserID and Message must be non-empty.
//	events - Optional step lifecycle sink for streaming. May be nil.
//
// Thread Safety: safe for concurrent use; same-session turns are
// serialized internally.
func (s *Service) AssistTurn(ctx context.Context, req AssistRequest, events agent.EventSink) (*AssistResponse, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "concierge.assist_turn",
		oteltrace.WithAttributes(attribute.String("user.id", req.UserID)),
	)
	defer span.End()

	eng := s.currentEngine(ctx)

	user, err := s.catalog.GetUser(ctx, req.UserID)
	if errors.Is(err, catalog.ErrNotFound) {
		span.SetStatus(codes.Error, "unknown user")
		return nil, &UnknownUserError{UserID: req.UserID}
	}
	if err != nil {
		s.logger.Error("user lookup failed", "user_id", req.UserID, "error", err)
		span.RecordError(err)
		return s.degradedTurn(ctx, req, setupAttentionPrefix+"user lookup failed", err), nil
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	lock := s.turnLock(req.UserID, sessionID)
	lock.Lock()
	defer lock.Unlock()

	contextMap, err := s.sessions.Get(ctx, req.UserID, sessionID)
	if err != nil {
		s.logger.Warn("session load failed, starting empty",
			"user_id", req.UserID, "session_id", sessionID, "error", err)
		contextMap = map[string]any{}
	}
	s.enrichContext(ctx, contextMap, user)

	proposal, err := eng.planner.GeneratePlan(ctx, req.Message, sessionID, req.UserID, contextMap)
	if err != nil {
		s.logger.Error("plan generation failed",
			"user_id", req.UserID, "session_id", sessionID, "error", err)
		span.RecordError(err)
		resp := s.degradedTurn(ctx, req, internalIssueReply, err)
		resp.SessionID = sessionID
		return resp, nil
	}

	validation := eng.validator.Validate(ctx, proposal.RawPlan, proposal.RawText, req.Message)

	trace := agent.ExecutionTrace{
		Plan:             validation.Plan,
		ValidationPassed: validation.Valid,
		ValidationErrors: validation.Errors,
		GovernanceUsed:   validation.Repaired,
		GovernanceFixes:  governanceReasons(validation.RepairedFrom),
	}

	if !validation.Valid {
		span.SetAttributes(attribute.Bool("plan.valid", false))
		response := planningFailedPrefix + strings.Join(validation.Errors, "; ")
		traceID := s.persistTrace(ctx, &trace)
		return &AssistResponse{
			Response:       response,
			SessionID:      sessionID,
			Intent:         validation.Plan.Intent,
			ExecutionSteps: []agent.StepResult{},
			TraceID:        traceID,
		}, nil
	}

	result := eng.executor.Execute(ctx, agent.ExecuteRequest{
		Plan:        validation.Plan,
		SessionID:   sessionID,
		UserID:      req.UserID,
		UserMessage: req.Message,
		Context:     contextMap,
		Events:      events,
	})

	trace.ExecutionSteps = result.Steps
	trace.FinalResult = result.Response
	trace.SmallTalk = result.SmallTalk
	traceID := s.persistTrace(ctx, &trace)

	span.SetAttributes(
		attribute.Bool("plan.valid", true),
		attribute.Bool("plan.repaired", validation.Repaired),
		attribute.Int("plan.steps", len(result.Steps)),
	)

	return &AssistResponse{
		Response:       result.Response,
		SessionID:      sessionID,
		Intent:         validation.Plan.Intent,
		ExecutionSteps: result.Steps,
		TraceID:        traceID,
	}, nil
}

// enrichContext layers the catalog profile and stored personalization
// into the session context before planning, so the planner and the
// resolver see them even on a brand-new session.
func (s *Service) enrichContext(ctx context.Context, contextMap map[string]any, user *catalog.User) {
	contextMap["user_profile"] = map[string]any{
		"user_id":      user.UserID,
		"name":         user.Name,
		"loyalty_tier": user.LoyaltyTier,
	}
	personalization, err := s.sessions.GetPersonalization(ctx, user.UserID)
	if err != nil {
		s.logger.Warn("personalization load failed", "user_id", user.UserID, "error", err)
		return
	}
	contextMap["personalization"] = personalization
}

// degradedTurn builds the canned response for a turn that failed
// before execution, persisting the diagnostic detail as a trace.
func (s *Service) degradedTurn(ctx context.Context, req AssistRequest, response string, cause error) *AssistResponse {
	trace := agent.ExecutionTrace{
		ValidationPassed: false,
		ValidationErrors: []string{cause.Error()},
		ExecutionSteps:   []agent.StepResult{},
		FinalResult:      response,
	}
	traceID := s.persistTrace(ctx, &trace)
	return &AssistResponse{
		Response:       response,
		SessionID:      req.SessionID,
		ExecutionSteps: []agent.StepResult{},
		TraceID:        traceID,
	}
}

// persistTrace stores the execution trace, returning its id. Trace
// persistence is best-effort: failures are logged and the turn goes on
// without a trace id.
func (s *Service) persistTrace(ctx context.Context, trace *agent.ExecutionTrace) string {
	record, err := s.sessions.PutTrace(ctx, trace)
	if err != nil {
		s.logger.Warn("trace persist failed", "error", err)
		return ""
	}
	return record.TraceID
}

// governanceReasons maps the structural errors a repair corrected to
// operator-facing fix descriptions, one per error class, deduplicated
// in first-seen order.
func governanceReasons(repairedFrom []string) []string {
	if len(repairedFrom) == 0 {
		return nil
	}
	seen := make(map[string]bool, 4)
	reasons := make([]string, 0, len(repairedFrom))
	for _, e := range repairedFrom {
		lower := strings.ToLower(e)
		var reason string
		switch {
		case strings.Contains(lower, "json") || strings.Contains(lower, "parse"):
			reason = "Invalid JSON format - governance repaired formatting"
		case strings.Contains(lower, "schema") || strings.Contains(lower, "field"):
			reason = "Schema violation - governance fixed structure"
		case strings.Contains(lower, "action") || strings.Contains(lower, "tool"):
			reason = "Invalid action - governance corrected tool name"
		default:
			reason = "Validation error - governance fixed plan"
		}
		if !seen[reason] {
			seen[reason] = true
			reasons = append(reasons, reason)
		}
	}
	return reasons
}
