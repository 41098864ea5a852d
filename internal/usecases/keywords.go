package usecases

import (
	_ "embed"
	"fmt"
	"strings"

	"support_flow/internal/entities"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultKeywordsYAML []byte

// AnyCategory matches every intent in a transition rule.
const AnyCategory = "*"

// KeywordCategory groups intent fragments under one name.
type KeywordCategory struct {
	Contains []string `yaml:"contains"`
	Exclude  []string `yaml:"exclude"`
}

// Matches reports whether text contains one of the category terms and none
// of its exclusions.
func (c KeywordCategory) Matches(text string) bool {
	text = strings.ToLower(text)
	if containsAny(text, c.Exclude) {
		return false
	}
	return containsAny(text, c.Contains)
}

// TransitionRule moves a conversation to Next when the intent matches
// Category.
type TransitionRule struct {
	Category string             `yaml:"category"`
	Next     entities.FlowState `yaml:"next"`
}

// TicketKeywords are the signals that make a message worth a ticket.
type TicketKeywords struct {
	Intents     []string `yaml:"intents"`
	Urgencies   []string `yaml:"urgencies"`
	ProblemKeys []string `yaml:"problem_keys"`
	Phrases     []string `yaml:"phrases"`
}

// SlotRule maps a time expression to Slot when it contains every All term
// and at least one Any term.
type SlotRule struct {
	Slot entities.Slot `yaml:"slot"`
	All  []string      `yaml:"all"`
	Any  []string      `yaml:"any"`
}

// KeywordTable is the data-driven vocabulary behind flow transitions,
// ticket-worthiness and slot normalization.
type KeywordTable struct {
	Overrides   map[string]entities.FlowState           `yaml:"overrides"`
	Categories  map[string]KeywordCategory              `yaml:"categories"`
	Transitions map[entities.FlowState][]TransitionRule `yaml:"transitions"`
	Ticket      TicketKeywords                          `yaml:"ticket"`
	Slots       []SlotRule                              `yaml:"slots"`
	Actions     map[string][]string                     `yaml:"actions"`
}

const (
	ActionCreateTicket        = "create_ticket"
	ActionScheduleAppointment = "schedule_appointment"
)

// Action returns the explicit action named by intent, if any.
func (t *KeywordTable) Action(intent string) (string, bool) {
	intent = strings.ToLower(strings.TrimSpace(intent))
	for action, intents := range t.Actions {
		for _, candidate := range intents {
			if intent == candidate {
				return action, true
			}
		}
	}
	return "", false
}

// NormalizeSlot maps a free-text time expression to a slot using the
// ordered slot rules.
func (t *KeywordTable) NormalizeSlot(text string) (entities.Slot, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return "", false
	}
	for _, rule := range t.Slots {
		if rule.matches(text) {
			return rule.Slot, true
		}
	}
	return "", false
}

func (r SlotRule) matches(text string) bool {
	if len(r.All) == 0 && len(r.Any) == 0 {
		return false
	}
	for _, term := range r.All {
		if !strings.Contains(text, strings.ToLower(term)) {
			return false
		}
	}
	return len(r.Any) == 0 || containsAny(text, r.Any)
}

// DefaultKeywords returns the embedded keyword table.
func DefaultKeywords() *KeywordTable {
	table, err := ParseKeywords(defaultKeywordsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded keywords.yaml: %v", err))
	}
	return table
}

// ParseKeywords decodes and validates a keyword table.
func ParseKeywords(data []byte) (*KeywordTable, error) {
	var table KeywordTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse keywords: %w", err)
	}
	if err := table.validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

func (t *KeywordTable) validate() error {
	for intent, state := range t.Overrides {
		if !state.Valid() {
			return fmt.Errorf("override %q: unknown state %q", intent, state)
		}
	}
	for state, rules := range t.Transitions {
		if !state.Valid() {
			return fmt.Errorf("transitions: unknown state %q", state)
		}
		for _, rule := range rules {
			if !rule.Next.Valid() {
				return fmt.Errorf("transitions %s: unknown next state %q", state, rule.Next)
			}
			if rule.Category == AnyCategory {
				continue
			}
			if _, ok := t.Categories[rule.Category]; !ok {
				return fmt.Errorf("transitions %s: unknown category %q", state, rule.Category)
			}
		}
	}
	for i, rule := range t.Slots {
		if !rule.Slot.Valid() {
			return fmt.Errorf("slots[%d]: unknown slot %q", i, rule.Slot)
		}
	}
	return nil
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
