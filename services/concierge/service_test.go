// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package concierge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/agent"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/session"
	badgerstore "github.com/AleutianAI/AleutianCommerce/services/concierge/storage/badger"
	"github.com/AleutianAI/AleutianCommerce/services/llm"
)

// fakeLLM returns scripted completions in order. A nil entry in errs
// means that call succeeds with the matching response.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt, _ string, _ llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("fake llm: no scripted response left")
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return f.Generate(ctx, last, "", params)
}

func (f *fakeLLM) ModelName() string { return "scripted-fake" }

// Scripted planner completions used across the service tests.
const (
	browsePlanJSON = `{"intent": "browse products", "needs_side_effects": true,
		"steps": [{"action": "recommend_products", "params": {"category": "Men's Fashion"}}],
		"response_style": "friendly"}`

	// Same plan minus response_style, for exercising the repair path.
	browsePlanMissingStyleJSON = `{"intent": "browse products", "needs_side_effects": true,
		"steps": [{"action": "recommend_products", "params": {"category": "Men's Fashion"}}]}`
)

type serviceHarness struct {
	service  *Service
	catalog  *catalog.Store
	sessions *session.Store
	client   *fakeLLM
}

func newTestService(t *testing.T, client *fakeLLM) *serviceHarness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalogDB, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalogDB.Close() })

	sessionDB, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessionDB.Close() })

	catalogStore, err := catalog.NewStore(catalogDB, logger)
	require.NoError(t, err)
	require.NoError(t, catalogStore.EnsureSeeded(ctx))

	sessionStore, err := session.NewStore(sessionDB, logger)
	require.NoError(t, err)

	rules, err := config.GetCommerceRules(ctx)
	require.NoError(t, err)

	service, err := NewService(ServiceDeps{
		Config:   &config.ServiceConfig{Port: 0, Provider: config.ProviderGemini},
		Rules:    rules,
		Catalog:  catalogStore,
		Sessions: sessionStore,
		LLM:      client,
		Logger:   logger,
	})
	require.NoError(t, err)

	return &serviceHarness{
		service:  service,
		catalog:  catalogStore,
		sessions: sessionStore,
		client:   client,
	}
}

// storedTrace fetches a persisted trace and returns its payload as the
// generic map it round-trips to.
func storedTrace(t *testing.T, h *serviceHarness, traceID string) map[string]any {
	t.Helper()
	require.NotEmpty(t, traceID)
	record, err := h.sessions.GetTrace(context.Background(), traceID)
	require.NoError(t, err)
	payload, ok := record.Trace.(map[string]any)
	require.True(t, ok, "trace payload should round-trip as a map, got %T", record.Trace)
	return payload
}

func TestNewService_RequiresDependencies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rules, err := config.GetCommerceRules(context.Background())
	require.NoError(t, err)

	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	catalogStore, err := catalog.NewStore(db, logger)
	require.NoError(t, err)
	sessionStore, err := session.NewStore(db, logger)
	require.NoError(t, err)

	full := ServiceDeps{
		Config:   &config.ServiceConfig{},
		Rules:    rules,
		Catalog:  catalogStore,
		Sessions: sessionStore,
		LLM:      &fakeLLM{},
		Logger:   logger,
	}

	tests := []struct {
		name   string
		mutate func(d *ServiceDeps)
	}{
		{"missing config", func(d *ServiceDeps) { d.Config = nil }},
		{"missing rules", func(d *ServiceDeps) { d.Rules = nil }},
		{"missing catalog", func(d *ServiceDeps) { d.Catalog = nil }},
		{"missing sessions", func(d *ServiceDeps) { d.Sessions = nil }},
		{"missing llm", func(d *ServiceDeps) { d.LLM = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			_, err := NewService(deps)
			require.Error(t, err)
		})
	}

	service, err := NewService(full)
	require.NoError(t, err)
	require.NotNil(t, service)
}

func TestAssistTurn_UnknownUserRejected(t *testing.T) {
	h := newTestService(t, &fakeLLM{})

	resp, err := h.service.AssistTurn(context.Background(), AssistRequest{
		UserID:  "ghost",
		Message: "hello",
	}, nil)

	require.Error(t, err)
	require.Nil(t, resp)
	var unknown *UnknownUserError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.UserID)
	assert.Equal(t,
		"User 'ghost' not found in database. Please create the user via /admin/users or CSV upload before using the sales agent.",
		unknown.Error())
	assert.Zero(t, h.client.calls, "no LLM call should happen for an unknown user")
}

func TestAssistTurn_HappyPath(t *testing.T) {
	client := &fakeLLM{responses: []string{
		browsePlanJSON,
		"Here are some shirts you might like.",
	}}
	h := newTestService(t, client)

	resp, err := h.service.AssistTurn(context.Background(), AssistRequest{
		UserID:  "001",
		Message: "show me some shirts for men",
	}, nil)

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "Here are some shirts you might like.", resp.Response)
	assert.Equal(t, "browse products", resp.Intent)
	assert.NotEmpty(t, resp.SessionID, "a session id should be minted when the request has none")

	require.Len(t, resp.ExecutionSteps, 1)
	step := resp.ExecutionSteps[0]
	assert.Equal(t, "recommend_products", step.Step)
	assert.True(t, step.Success)

	trace := storedTrace(t, h, resp.TraceID)
	assert.Equal(t, true, trace["validation_passed"])
	assert.Nil(t, trace["governance_fixes"])
}

func TestAssistTurn_PersistsSessionContext(t *testing.T) {
	client := &fakeLLM{responses: []string{
		browsePlanJSON,
		"Here you go.",
	}}
	h := newTestService(t, client)

	resp, err := h.service.AssistTurn(context.Background(), AssistRequest{
		UserID:    "001",
		SessionID: "sess-42",
		Message:   "show me some shirts for men",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-42", resp.SessionID)

	stored, err := h.sessions.Get(context.Background(), "001", "sess-42")
	require.NoError(t, err)
	assert.Equal(t, "show me some shirts for men", stored["last_message"])
	assert.Equal(t, "browse products", stored["last_intent"])
}

func TestAssistTurn_PlannerPromptCarriesProfileAndPersonalization(t *testing.T) {
	ctx := context.Background()
	client := &fakeLLM{responses: []string{
		browsePlanJSON,
		"Done.",
	}}
	h := newTestService(t, client)

	_, err := h.sessions.SavePersonalization(ctx, "003", map[string]any{
		"preferred_gender": "male",
	})
	require.NoError(t, err)

	_, err = h.service.AssistTurn(ctx, AssistRequest{
		UserID:  "003",
		Message: "show me some shirts",
	}, nil)
	require.NoError(t, err)

	require.NotEmpty(t, client.prompts)
	plannerPrompt := client.prompts[0]
	assert.Contains(t, plannerPrompt, "=== USER PROFILE DATA ===")
	assert.Contains(t, plannerPrompt, "gold", "user 003's loyalty tier should reach the planner")
	assert.Contains(t, plannerPrompt, "=== PERSONALIZATION DATA ===")
	assert.Contains(t, plannerPrompt, "male")
}

func TestAssistTurn_PlannerErrorDegrades(t *testing.T) {
	client := &fakeLLM{errs: []error{errors.New("gemini connection reset")}}
	h := newTestService(t, client)

	resp, err := h.service.AssistTurn(context.Background(), AssistRequest{
		UserID:  "001",
		Message: "show me some shirts",
	}, nil)

	require.NoError(t, err, "engine degradation must not surface as an error")
	require.NotNil(t, resp)
	assert.Equal(t, internalIssueReply, resp.Response)
	assert.NotEmpty(t, resp.SessionID)
	assert.Empty(t, resp.ExecutionSteps)

	trace := storedTrace(t, h, resp.TraceID)
	assert.Equal(t, false, trace["validation_passed"])
	errsAny, ok := trace["validation_errors"].([]any)
	require.True(t, ok)
	require.Len(t, errsAny, 1)
	assert.Contains(t, errsAny[0], "gemini connection reset")
}

func TestAssistTurn_InvalidPlanShortCircuits(t *testing.T) {
	// Planner completion never parses; the repair completion does not
	// either, so validation lands on the fallback plan and the turn
	// reports the planning failure without executing anything.
	client := &fakeLLM{responses: []string{
		"I think the user wants shirts, maybe?",
		"still not a plan",
	}}
	h := newTestService(t, client)

	resp, err := h.service.AssistTurn(context.Background(), AssistRequest{
		UserID:  "001",
		Message: "show me some shirts for men",
	}, nil)

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, strings.HasPrefix(resp.Response, planningFailedPrefix),
		"got response %q", resp.Response)
	assert.Equal(t, "validation failed", resp.Intent)
	assert.Empty(t, resp.ExecutionSteps)

	trace := storedTrace(t, h, resp.TraceID)
	assert.Equal(t, false, trace["validation_passed"])
	errsAny, ok := trace["validation_errors"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, errsAny)
}

func TestAssistTurn_GovernanceRepairReported(t *testing.T) {
	client := &fakeLLM{responses: []string{
		browsePlanMissingStyleJSON,
		browsePlanJSON,
		"Here are the shirts.",
	}}
	h := newTestService(t, client)

	resp, err := h.service.AssistTurn(context.Background(), AssistRequest{
		UserID:  "001",
		Message: "show me some shirts for men",
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Here are the shirts.", resp.Response)
	require.Len(t, resp.ExecutionSteps, 1)

	trace := storedTrace(t, h, resp.TraceID)
	assert.Equal(t, true, trace["validation_passed"])
	assert.Equal(t, true, trace["governance_used"])
	fixes, ok := trace["governance_fixes"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"Schema violation - governance fixed structure"}, fixes)
}

type countingSink struct {
	plans, started, finished, responses int
}

func (s *countingSink) PlanStarted(*agent.Plan)            { s.plans++ }
func (s *countingSink) StepStarted(int, string)            { s.started++ }
func (s *countingSink) StepFinished(int, agent.StepResult) { s.finished++ }
func (s *countingSink) ResponseReady(string)               { s.responses++ }

func TestAssistTurn_EventsReachTheSink(t *testing.T) {
	client := &fakeLLM{responses: []string{
		browsePlanJSON,
		"All set.",
	}}
	h := newTestService(t, client)

	sink := &countingSink{}
	_, err := h.service.AssistTurn(context.Background(), AssistRequest{
		UserID:  "001",
		Message: "show me some shirts for men",
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, 1, sink.plans)
	assert.Equal(t, 1, sink.started)
	assert.Equal(t, 1, sink.finished)
	assert.Equal(t, 1, sink.responses)
}

func TestCurrentEngine_RebuildsWhenRulesChange(t *testing.T) {
	ctx := context.Background()
	h := newTestService(t, &fakeLLM{})

	base := h.service.engine.Load()
	require.NotNil(t, base)

	// No source: the boot-time engine is pinned.
	assert.Same(t, base, h.service.currentEngine(ctx))

	current := base.rules
	h.service.rulesSource = func(context.Context) (*config.CommerceRules, error) {
		return current, nil
	}
	assert.Same(t, base, h.service.currentEngine(ctx))

	// A failing source keeps the engine in place.
	h.service.rulesSource = func(context.Context) (*config.CommerceRules, error) {
		return nil, errors.New("rules file unreadable")
	}
	assert.Same(t, base, h.service.currentEngine(ctx))

	// A new document swaps in a freshly built bundle.
	raw, err := os.ReadFile(filepath.Join("config", "commerce_rules.yaml"))
	require.NoError(t, err)
	reloaded, err := config.LoadCommerceRules(ctx, raw)
	require.NoError(t, err)

	h.service.rulesSource = func(context.Context) (*config.CommerceRules, error) {
		return reloaded, nil
	}
	rebuilt := h.service.currentEngine(ctx)
	require.NotSame(t, base, rebuilt)
	assert.Same(t, reloaded, rebuilt.rules)
	assert.NotSame(t, base.planner, rebuilt.planner)

	// The swapped bundle is now the stable current engine.
	assert.Same(t, rebuilt, h.service.currentEngine(ctx))
}

func TestTurnLock_SamePairSharesMutex(t *testing.T) {
	h := newTestService(t, &fakeLLM{})

	a := h.service.turnLock("001", "sess-1")
	b := h.service.turnLock("001", "sess-1")
	c := h.service.turnLock("001", "sess-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestGovernanceReasons(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "empty input",
			in:   nil,
			want: nil,
		},
		{
			name: "parse error",
			in:   []string{"Invalid JSON in planner response: unexpected token"},
			want: []string{"Invalid JSON format - governance repaired formatting"},
		},
		{
			name: "missing field",
			in:   []string{"Missing required field: response_style"},
			want: []string{"Schema violation - governance fixed structure"},
		},
		{
			name: "bad action",
			in:   []string{"Step 0 has invalid action 'teleport'. Available: check_inventory"},
			want: []string{"Invalid action - governance corrected tool name"},
		},
		{
			name: "unclassified",
			in:   []string{"something else entirely"},
			want: []string{"Validation error - governance fixed plan"},
		},
		{
			name: "deduplicated in first-seen order",
			in: []string{
				"Missing required field: intent",
				"Missing required field: steps",
				"Invalid JSON in planner response: boom",
			},
			want: []string{
				"Schema violation - governance fixed structure",
				"Invalid JSON format - governance repaired formatting",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, governanceReasons(tt.in))
		})
	}
}
