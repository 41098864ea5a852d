package usecases

import (
	"strings"

	"support_flow/internal/entities"
)

// Decision is the outcome of evaluating one message against the flow.
type Decision struct {
	From              entities.FlowState `json:"from"`
	Next              entities.FlowState `json:"next"`
	RecommendTicket   bool               `json:"recommend_ticket"`
	CheckAvailability bool               `json:"check_availability"`
}

// Changed reports whether the decision moves the conversation.
func (d Decision) Changed() bool {
	return d.From != d.Next
}

// FlowEngine computes conversation stage transitions. It holds no mutable
// state and is safe for concurrent use.
type FlowEngine struct {
	keywords *KeywordTable
}

// NewFlowEngine creates an engine over the given keyword table. A nil table
// selects the embedded defaults.
func NewFlowEngine(keywords *KeywordTable) *FlowEngine {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	return &FlowEngine{keywords: keywords}
}

// Decide returns the next state for current given the classified intent.
// Unmatched combinations keep the current state.
func (e *FlowEngine) Decide(current entities.FlowState, intent string, _ entities.Entities) entities.FlowState {
	intent = strings.ToLower(strings.TrimSpace(intent))

	if next, ok := e.keywords.Overrides[intent]; ok {
		return next
	}

	for _, rule := range e.keywords.Transitions[current] {
		if rule.Category == AnyCategory {
			return rule.Next
		}
		if intent == "" {
			continue
		}
		if e.keywords.Categories[rule.Category].Matches(intent) {
			return rule.Next
		}
	}
	return current
}

// Evaluate runs Decide and derives the side-effect signals for the new state.
func (e *FlowEngine) Evaluate(current entities.FlowState, analysis entities.Analysis, text string) Decision {
	analysis = analysis.Normalize()
	d := Decision{
		From: current,
		Next: e.Decide(current, analysis.Intent, analysis.Entities),
	}

	switch d.Next {
	case entities.StateProblemIdentification, entities.StateTroubleshooting:
		d.RecommendTicket = e.ShouldCreateTicket(text, analysis)
	case entities.StateAppointmentScheduling:
		d.CheckAvailability = analysis.Entities.Has("date") && analysis.Entities.Has("time")
	}
	return d
}
