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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const tracerName = "services/concierge/agent"

var (
	planValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce",
		Subsystem: "engine",
		Name:      "plan_validations_total",
		Help:      "Plan validation outcomes: valid, repaired, or fallback.",
	}, []string{"outcome"})

	planParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "commerce",
		Subsystem: "engine",
		Name:      "plan_parse_failures_total",
		Help:      "Plan proposals whose text never decoded as JSON.",
	})

	stepsSynthesized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce",
		Subsystem: "engine",
		Name:      "steps_synthesized_total",
		Help:      "Steps injected by the intent-enforcement heuristics.",
	}, []string{"action"})

	repairAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce",
		Subsystem: "engine",
		Name:      "repair_attempts_total",
		Help:      "Guardrailed repair outcomes: accepted, invalid_json, semantic_violation, or upstream_error.",
	}, []string{"result"})

	executorRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "commerce",
		Subsystem: "engine",
		Name:      "executor_runs_total",
		Help:      "Plans handed to the executor.",
	})

	stepExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce",
		Subsystem: "engine",
		Name:      "steps_total",
		Help:      "Executed steps by action and status.",
	}, []string{"action", "status"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "commerce",
		Subsystem: "engine",
		Name:      "step_duration_seconds",
		Help:      "Wall time per dispatched step.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})

	responseFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "commerce",
		Subsystem: "engine",
		Name:      "response_fallbacks_total",
		Help:      "Turns answered by the deterministic fallback because response phrasing failed.",
	})
)
