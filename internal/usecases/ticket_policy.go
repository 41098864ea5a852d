package usecases

import (
	"strings"

	"support_flow/internal/entities"
)

// ShouldCreateTicket reports whether a message looks like a problem worth a
// support ticket. It trusts the structured analysis first and then falls back
// to lexical matching on the raw text.
func (e *FlowEngine) ShouldCreateTicket(text string, analysis entities.Analysis) bool {
	kw := e.keywords.Ticket
	intent := strings.ToLower(strings.TrimSpace(analysis.Intent))
	for _, candidate := range kw.Intents {
		if intent == candidate {
			return true
		}
	}

	urgency := strings.ToLower(strings.TrimSpace(analysis.Urgency))
	for _, u := range kw.Urgencies {
		if urgency != u {
			continue
		}
		for _, key := range kw.ProblemKeys {
			if analysis.Entities.Has(key) {
				return true
			}
		}
	}

	return containsAny(strings.ToLower(text), kw.Phrases)
}
