// Package validate implements the field-level checks the event router
// applies before dispatch (§4.5 step 3), grounded on the teacher's
// validateName (trim, reject empty, bound length) generalized to the
// filename, index, and drift shapes the spec requires.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// filenamePattern matches spec §4.5: letters, digits, space, and a small
// punctuation allow-list, no path separators.
var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9 _.\-()\[\]]+$`)

const MaxFilenameLength = 255

// Name trims surrounding whitespace, rejects empty or over-length names,
// and returns the trimmed value. Byte length is checked, matching the
// teacher's UTF-8-by-bytes behavior.
func Name(raw string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("name must not be empty")
	}
	if len(trimmed) > maxLen {
		return "", fmt.Errorf("name exceeds maximum length of %d", maxLen)
	}
	return trimmed, nil
}

// Filename checks a basename against spec §4.5 step 3 and §8 property 7:
// no path separators, no "..", matches the allow-listed character class,
// length <= 255.
func Filename(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("filename must not be empty")
	}
	if len(raw) > MaxFilenameLength {
		return "", fmt.Errorf("filename exceeds maximum length of %d", MaxFilenameLength)
	}
	if strings.Contains(raw, "..") || strings.ContainsAny(raw, "/\\") {
		return "", fmt.Errorf("filename must not contain path separators or '..'")
	}
	if !filenamePattern.MatchString(raw) {
		return "", fmt.Errorf("filename contains disallowed characters")
	}
	return raw, nil
}

// Drift clamps a drift value into [-60, 60], matching §3's invariant and
// §8 property 6 ("bounded drift").
func Drift(seconds float64) float64 {
	switch {
	case seconds < -60:
		return -60
	case seconds > 60:
		return 60
	default:
		return seconds
	}
}

// PlaylistIndex checks an index against the live playlist length (§3
// invariant: "A playlist index in any message MUST lie in [0, len(videos))
// or be rejected").
func PlaylistIndex(index, length int) error {
	if index < 0 || index >= length {
		return fmt.Errorf("playlist index %d out of range [0, %d)", index, length)
	}
	return nil
}

// TrackIndex checks a selected-track index: >= -1, with -1 meaning "off"
// for subtitles (§3); an unset audio track is 0.
func TrackIndex(index int) error {
	if index < -1 {
		return fmt.Errorf("track index %d must be >= -1", index)
	}
	return nil
}

// NonNegativeFinite checks a time-like field (§4.5 step 3: "time fields
// are finite and >= 0").
func NonNegativeFinite(seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("value %v must be >= 0", seconds)
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("value must be finite")
	}
	return nil
}

// ChatMessage HTML-escapes and length-bounds a chat payload (§4.5
// chat-message: "HTML-escape sender and message (<= 500 chars)").
func ChatMessage(raw string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("message must not be empty")
	}
	if len(trimmed) > maxLen {
		trimmed = trimmed[:maxLen]
	}
	return htmlEscape(trimmed), nil
}

func htmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#39;",
	)
	return r.Replace(s)
}
