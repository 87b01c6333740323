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
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
)

// Intent predicates over the user message. Each one scans the message
// against a keyword set from the commerce rules: single-word signals
// match whole tokens only, multi-word signals match as substrings of
// the lowercased message. Whole-token matching matters because short
// signals are embedded in everyday words ("hi" in "this", "top" in
// "stop").

// messageTokens splits a message into lowercase word tokens.
// Apostrophes stay inside tokens so "men's" survives as one word.
func messageTokens(message string) map[string]bool {
	tokens := make(map[string]bool)
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for _, f := range fields {
		tokens[strings.Trim(f, "'")] = true
		tokens[f] = true
	}
	return tokens
}

// hasSignal reports whether the message matches any signal in the set.
func hasSignal(message string, signals []string) bool {
	lower := strings.ToLower(message)
	tokens := messageTokens(message)
	for _, sig := range signals {
		if strings.Contains(sig, " ") {
			if strings.Contains(lower, sig) {
				return true
			}
		} else if tokens[sig] {
			return true
		}
	}
	return false
}

// isBrowseRequest reports whether the user is asking to see or buy
// products.
func isBrowseRequest(rules *config.CommerceRules, message string) bool {
	return hasSignal(message, rules.Intents.BrowseSignals)
}

// isAvailabilityRequest reports whether the user is asking about
// stock, sizes, or availability.
func isAvailabilityRequest(rules *config.CommerceRules, message string) bool {
	return hasSignal(message, rules.Intents.AvailabilitySignals)
}

// inferGender returns "female", "male", or "" from gendered words in
// the message. Female signals win when both appear.
func inferGender(rules *config.CommerceRules, message string) string {
	if hasSignal(message, rules.Intents.FemaleSignals) {
		return "female"
	}
	if hasSignal(message, rules.Intents.MaleSignals) {
		return "male"
	}
	return ""
}

// isSmallTalk reports whether the message is a greeting or chit-chat
// that needs no tools. Messages that reference product identifiers are
// never small talk, whatever pleasantries they open with.
func isSmallTalk(rules *config.CommerceRules, message string) bool {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "sku-") ||
		strings.Contains(lower, "prod-") ||
		strings.Contains(lower, "product_id") {
		return false
	}
	return hasSignal(message, rules.Intents.SmallTalkSignals)
}
