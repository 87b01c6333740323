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

import "errors"

// The engine distinguishes five failure classes. Structural failures
// are validation errors on the proposed plan and are recoverable via
// repair. Semantic violations mean a repair changed what the plan
// does and must be discarded. Unresolvable dependencies are step
// parameters that cannot be derived from real data. Tool failures are
// isolated to their step. Upstream failures are provider errors from
// the completion client. Only the trace carries details; user-facing
// text stays generic.

// SemanticViolation reports a repaired plan that no longer matches the
// invariants captured from the invalid original: step count, the set
// of action names, or the substance of the intent.
type SemanticViolation struct {
	Reason string
}

func (e *SemanticViolation) Error() string {
	return e.Reason
}

// ErrUnresolvedIdentifier is returned by the resolver when an
// inventory step names no product and none can be inferred from prior
// recommendation results or the catalog. Guessing an identifier would
// let the engine fabricate stock answers, so the step fails instead.
var ErrUnresolvedIdentifier = errors.New("cannot infer identifier, re-run recommendation first")
