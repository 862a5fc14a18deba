package progress

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Level is the severity attached to a progress Event.
type Level string

// Supported progress levels. LevelUnset asks the relay to infer the level from
// the message text.
const (
	LevelUnset   Level = ""
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Event is a single progress message tied to a scrape request.
type Event struct {
	RequestID string    `json:"requestId"`
	Message   string    `json:"message"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RequestID == "" {
		return errors.New("request id is required")
	}
	if strings.TrimSpace(e.Message) == "" {
		return errors.New("message is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Level {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
	default:
		return fmt.Errorf("unknown level %q", e.Level)
	}
	return nil
}

// Markers are matched case-insensitively and in this order. The Portuguese and
// emoji forms keep messages from older emitters classified the same way.
var levelMarkers = []struct {
	level   Level
	markers []string
}{
	{LevelSuccess, []string{"✅", "success", "coletadas", "enviadas"}},
	{LevelWarning, []string{"⚠️", "warning", "nenhuma"}},
	{LevelError, []string{"❌", "error", "erro", "failed"}},
}

// InferLevel classifies a message by keyword, falling back to LevelInfo.
func InferLevel(message string) Level {
	lower := strings.ToLower(message)
	for _, group := range levelMarkers {
		for _, marker := range group.markers {
			if strings.Contains(lower, marker) {
				return group.level
			}
		}
	}
	return LevelInfo
}

// ResolveLevel returns level unless it is unset, in which case the level is
// inferred from message.
func ResolveLevel(message string, level Level) Level {
	if level == LevelUnset {
		return InferLevel(message)
	}
	return level
}
