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

// EventSink receives execution lifecycle notifications as a run
// progresses, for live streaming of step activity to clients.
// Implementations must not block; the executor calls them inline.
type EventSink interface {
	PlanStarted(plan *Plan)
	StepStarted(index int, action string)
	StepFinished(index int, result StepResult)
	ResponseReady(response string)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) PlanStarted(*Plan)            {}
func (NopSink) StepStarted(int, string)      {}
func (NopSink) StepFinished(int, StepResult) {}
func (NopSink) ResponseReady(string)         {}
