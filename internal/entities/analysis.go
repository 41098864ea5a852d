package entities

import (
	"fmt"
	"strings"
)

const (
	DefaultIntent    = "consulta_general"
	DefaultSentiment = "neutral"
	DefaultUrgency   = "bajo"
)

const (
	UrgencyLow    = "bajo"
	UrgencyMedium = "medio"
	UrgencyHigh   = "alto"
)

// Entities is the key-value extraction produced by the text-analysis
// collaborator. Values are heterogeneous; use the typed accessors.
type Entities map[string]any

// String returns the value at key rendered as a trimmed string. Absent,
// nil or blank values report false.
func (e Entities) String(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	v, ok := e[key]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprintf("%v", t)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Has reports whether key is present with a non-nil value.
func (e Entities) Has(key string) bool {
	if e == nil {
		return false
	}
	v, ok := e[key]
	return ok && v != nil
}

// Analysis is the classifier output for a single inbound message.
type Analysis struct {
	Intent       string   `json:"intent"`
	Sentiment    string   `json:"sentiment"`
	Entities     Entities `json:"entities"`
	Urgency      string   `json:"urgency"`
	ResponseText string   `json:"-"`
}

// Normalize fills absent fields with their defaults so downstream code never
// sees an empty intent or a nil entity map.
func (a Analysis) Normalize() Analysis {
	a.Intent = strings.ToLower(strings.TrimSpace(a.Intent))
	if a.Intent == "" {
		a.Intent = DefaultIntent
	}
	a.Sentiment = strings.ToLower(strings.TrimSpace(a.Sentiment))
	if a.Sentiment == "" {
		a.Sentiment = DefaultSentiment
	}
	a.Urgency = strings.ToLower(strings.TrimSpace(a.Urgency))
	if a.Urgency == "" {
		a.Urgency = DefaultUrgency
	}
	if a.Entities == nil {
		a.Entities = Entities{}
	}
	return a
}

// FallbackAnalysis is used when classification fails.
func FallbackAnalysis() Analysis {
	return Analysis{
		Intent:    DefaultIntent,
		Sentiment: DefaultSentiment,
		Entities:  Entities{},
		Urgency:   DefaultUrgency,
	}
}
