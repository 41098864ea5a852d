package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const DefaultApologyMessage = "Lo siento, estamos experimentando dificultades técnicas. Por favor, inténtalo de nuevo más tarde."

// BotSettings are the runtime knobs that can change without a restart.
type BotSettings struct {
	ApologyMessage      string `yaml:"apology_message"`
	SlotCapacity        int    `yaml:"slot_capacity"`
	HistoryLimit        int    `yaml:"history_limit"`
	DescriptionMessages int    `yaml:"description_messages"`
	MaxAvailabilityDays int    `yaml:"max_availability_days"`
}

func DefaultBotSettings() BotSettings {
	return BotSettings{
		ApologyMessage:      DefaultApologyMessage,
		SlotCapacity:        1,
		HistoryLimit:        10,
		DescriptionMessages: 5,
		MaxAvailabilityDays: 14,
	}
}

func (b BotSettings) Validate() error {
	if b.SlotCapacity < 1 {
		return fmt.Errorf("config: slot_capacity must be at least 1, got %d", b.SlotCapacity)
	}
	if b.HistoryLimit < 1 {
		return fmt.Errorf("config: history_limit must be at least 1, got %d", b.HistoryLimit)
	}
	if b.DescriptionMessages < 1 {
		return fmt.Errorf("config: description_messages must be at least 1, got %d", b.DescriptionMessages)
	}
	if b.MaxAvailabilityDays < 1 {
		return fmt.Errorf("config: max_availability_days must be at least 1, got %d", b.MaxAvailabilityDays)
	}
	if strings.TrimSpace(b.ApologyMessage) == "" {
		return errors.New("config: apology_message must not be empty")
	}
	return nil
}

// apply overlays string key/values. Unknown keys are ignored.
func (b BotSettings) apply(values map[string]string) (BotSettings, error) {
	for key, raw := range values {
		raw = strings.TrimSpace(raw)
		switch key {
		case "apology_message":
			b.ApologyMessage = raw
		case "slot_capacity", "history_limit", "description_messages", "max_availability_days":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return b, fmt.Errorf("config: %s: %w", key, err)
			}
			switch key {
			case "slot_capacity":
				b.SlotCapacity = n
			case "history_limit":
				b.HistoryLimit = n
			case "description_messages":
				b.DescriptionMessages = n
			case "max_availability_days":
				b.MaxAvailabilityDays = n
			}
		}
	}
	return b, nil
}

// Source supplies setting overrides as key/value pairs.
type Source interface {
	Name() string
	Load(ctx context.Context) (map[string]string, error)
}

// Settings holds the current BotSettings. Sources are applied in order on
// top of the base values at every Reload; later sources win.
type Settings struct {
	base    BotSettings
	sources []Source

	mu      sync.RWMutex
	current BotSettings
}

func NewSettings(base BotSettings, sources ...Source) *Settings {
	return &Settings{base: base, sources: sources, current: base}
}

// Current returns a snapshot of the settings.
func (s *Settings) Current() BotSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload rebuilds the settings from the base and all sources. On any error
// the previous settings stay in effect.
func (s *Settings) Reload(ctx context.Context) (BotSettings, error) {
	next := s.base
	for _, src := range s.sources {
		values, err := src.Load(ctx)
		if err != nil {
			return s.Current(), fmt.Errorf("config: load %s: %w", src.Name(), err)
		}
		if next, err = next.apply(values); err != nil {
			return s.Current(), fmt.Errorf("config: apply %s: %w", src.Name(), err)
		}
	}
	if err := next.Validate(); err != nil {
		return s.Current(), err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
