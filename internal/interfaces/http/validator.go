package http

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"support_flow/internal/entities"
)

// Input validation constants
const (
	MaxConfigKeyLength = 64
	MaxConfigValLength = 5000
	MaxMessageLength   = 4096
	MaxPhoneLength     = 32
)

var (
	configKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	senderPattern    = regexp.MustCompile(`^\+?[0-9A-Za-z_.:@-]+$`)
)

// ValidConfigKey checks if a config key is safe
func ValidConfigKey(s string) bool {
	return s != "" && len(s) <= MaxConfigKeyLength && configKeyPattern.MatchString(s)
}

// ValidSender checks a phone number or chat id used as a sender
func ValidSender(s string) bool {
	return s != "" && len(s) <= MaxPhoneLength && senderPattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return s
}

// TruncateString truncates s to at most maxLen bytes without splitting a rune
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func parseDateParam(raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	d, err := time.ParseInLocation(entities.DateLayout, raw, time.UTC)
	if err != nil {
		return nil, false
	}
	return &d, true
}

func queryInt(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
