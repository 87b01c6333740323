// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides provider-agnostic access to completion models.
//
// The concierge uses completions in exactly two places: proposing an
// action plan and phrasing the final reply. Both are plain
// text-in/text-out calls; tool dispatch happens inside the engine, so
// no function-calling surface is exposed here.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request policy for upstream completion calls. Interactive callers are
// waiting on every one of these, so the budget is short: one retry on a
// transient failure with a fixed sleep, nothing else.
const (
	RequestTimeout = 15 * time.Second
	MaxRetries     = 1
	RetrySleep     = 500 * time.Millisecond
)

// Message is a single turn in a conversation.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the text of the turn.
	Content string `json:"content"`
}

// GenerationParams controls sampling for a single request.
//
// Pointer fields distinguish "unset, use provider default" from an
// explicit zero.
type GenerationParams struct {
	Temperature     *float32
	TopP            *float32
	TopK            *int
	MaxOutputTokens *int

	// ModelOverride selects a different model for this request only.
	ModelOverride string
}

// DefaultPlannerParams returns the sampling parameters used for plan
// proposals and response phrasing. Low temperature: plans must be
// parseable JSON, not creative writing.
func DefaultPlannerParams() GenerationParams {
	temp := float32(0.3)
	topP := float32(0.95)
	topK := 40
	maxTokens := 2048
	return GenerationParams{
		Temperature:     &temp,
		TopP:            &topP,
		TopK:            &topK,
		MaxOutputTokens: &maxTokens,
	}
}

// Client is the completion interface the plan engine depends on.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Generate produces a completion for a single prompt with an
	// optional system instruction.
	Generate(ctx context.Context, prompt, systemPrompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a multi-turn conversation.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ModelName reports the configured model, for logging and traces.
	ModelName() string
}

// ErrEmptyResponse marks a completion that came back with no text.
// Treated as transient; the model occasionally returns an empty
// candidate under load.
var ErrEmptyResponse = errors.New("llm: empty response")

// IsRateLimited reports whether err looks like a quota or rate-limit
// rejection. Substring matching is deliberate: providers disagree on
// status codes and error shapes, but all of them say so in the message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "exceeded")
}

// IsTransient reports whether err is worth a single retry: timeouts,
// rate limits, transport failures, 5xx responses, and empty
// completions. Configuration errors (bad key, unknown model) are not
// transient and fail immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	if IsRateLimited(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "status 500") ||
		strings.Contains(msg, "status 502") ||
		strings.Contains(msg, "status 503") ||
		strings.Contains(msg, "status 504")
}

// retryClient decorates a Client with the single-retry policy.
type retryClient struct {
	inner Client
	sleep time.Duration
}

// WithRetry wraps a client so transient failures are retried exactly
// once after a fixed sleep. Non-transient errors and context
// cancellation pass through immediately.
func WithRetry(inner Client) Client {
	return &retryClient{inner: inner, sleep: RetrySleep}
}

func (r *retryClient) Generate(ctx context.Context, prompt, systemPrompt string, params GenerationParams) (string, error) {
	return r.retry(ctx, func() (string, error) {
		return r.inner.Generate(ctx, prompt, systemPrompt, params)
	})
}

func (r *retryClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	return r.retry(ctx, func() (string, error) {
		return r.inner.Chat(ctx, messages, params)
	})
}

func (r *retryClient) ModelName() string {
	return r.inner.ModelName()
}

func (r *retryClient) retry(ctx context.Context, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) || errors.Is(ctx.Err(), context.Canceled) {
			return "", err
		}
		if attempt < MaxRetries {
			select {
			case <-time.After(r.sleep):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("llm: request failed after %d attempts: %w", MaxRetries+1, lastErr)
}
