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
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
	"github.com/AleutianAI/AleutianCommerce/services/llm"
)

var explicitIDPattern = regexp.MustCompile(`(?i)\b(?:prod-\w+|sku-\w+)\b`)

// Responder phrases the final reply from tool results. Greetings take
// a lightweight small-talk path that skips tool results entirely.
//
// Thread Safety: safe for concurrent use.
type Responder struct {
	llm    llm.Client
	rules  *config.CommerceRules
	logger *slog.Logger
}

func NewResponder(client llm.Client, rules *config.CommerceRules, logger *slog.Logger) (*Responder, error) {
	if client == nil {
		return nil, fmt.Errorf("agent: responder requires an llm client")
	}
	if rules == nil {
		return nil, fmt.Errorf("agent: responder requires commerce rules")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{llm: client, rules: rules, logger: logger}, nil
}

// Reply is a generated user-facing response. SmallTalk marks turns the
// classifier routed past the tool results, so traces record that the
// reply reflects conversation, not data.
type Reply struct {
	Text      string
	SmallTalk bool
}

// Generate phrases a reply for one executed plan. Deterministic paths
// (small-talk fallback, unsupported requests, nothing succeeded) never
// return an error; an error means the phrasing call itself failed and
// the caller should fall back to a canned response.
func (r *Responder) Generate(ctx context.Context, userMessage string, plan *Plan, steps []StepResult, contextMap map[string]any) (Reply, error) {
	if isSmallTalk(r.rules, userMessage) {
		return r.smallTalk(ctx, userMessage, contextMap), nil
	}

	if plan.Intent == "unsupported_request" {
		return Reply{Text: unsupportedReply}, nil
	}

	if len(successfulSteps(steps)) == 0 &&
		plan.Intent != "" && plan.Intent != "small_talk" && plan.Intent != "general_chat" {
		return Reply{Text: noProgressReply}, nil
	}

	prompt := responderUserPrompt(userMessage, steps, contextMap, explicitIDPattern.MatchString(userMessage))
	out, err := r.llm.Generate(ctx, prompt, responderSystemPrompt, llm.DefaultPlannerParams())
	if err != nil {
		return Reply{}, fmt.Errorf("response generation failed: %w", err)
	}
	return Reply{Text: strings.TrimSpace(out)}, nil
}

// smallTalk answers a greeting conversationally. Failures degrade to a
// fixed friendly reply rather than an error; there is nothing to
// recover for a greeting.
func (r *Responder) smallTalk(ctx context.Context, userMessage string, contextMap map[string]any) Reply {
	prompt := smallTalkUserPrompt(userMessage, asText(contextMap["last_message"]))
	out, err := r.llm.Generate(ctx, prompt, smallTalkSystemPrompt, llm.DefaultPlannerParams())
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			r.logger.Warn("small talk generation failed", "error", err)
		}
		return Reply{Text: smallTalkFallback, SmallTalk: true}
	}
	return Reply{Text: strings.TrimSpace(out), SmallTalk: true}
}

// compactHistory trims the conversation history to its last ten turns
// with each side capped at 400 runes, keeping responder prompts small.
func compactHistory(contextMap map[string]any) []map[string]any {
	history, _ := contextMap["message_history"].([]any)
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	compact := make([]map[string]any, 0, len(history))
	for _, h := range history {
		turn, ok := h.(map[string]any)
		if !ok {
			continue
		}
		compact = append(compact, map[string]any{
			"user":     truncate(asText(turn["user"]), 400),
			"response": truncate(asText(turn["response"]), 400),
			"intent":   turn["intent"],
		})
	}
	return compact
}
