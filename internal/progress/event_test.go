package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInferLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		message string
		want    Level
	}{
		{"✅ 12 ofertas coletadas", LevelSuccess},
		{"SUCCESS: results sent", LevelSuccess},
		{"12 ofertas enviadas", LevelSuccess},
		{"⚠️ readiness marker missing", LevelWarning},
		{"Nenhuma oferta encontrada", LevelWarning},
		{"warning: scroll limit reached", LevelWarning},
		{"❌ navigation timed out", LevelError},
		{"ERRO ao navegar", LevelError},
		{"extraction failed", LevelError},
		{"Opening browser session", LevelInfo},
		{"", LevelInfo},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, InferLevel(tc.message), tc.message)
	}
}

func TestResolveLevelPrefersExplicit(t *testing.T) {
	t.Parallel()

	require.Equal(t, LevelInfo, ResolveLevel("❌ looks like an error", LevelInfo))
	require.Equal(t, LevelError, ResolveLevel("❌ looks like an error", LevelUnset))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	require.NoError(t, Event{RequestID: "r", Message: "m", Level: LevelInfo, Timestamp: now}.Validate())
	require.ErrorContains(t, Event{Message: "m", Level: LevelInfo, Timestamp: now}.Validate(), "request id")
	require.ErrorContains(t, Event{RequestID: "r", Message: " \t\n", Level: LevelInfo, Timestamp: now}.Validate(), "message")
	require.ErrorContains(t, Event{RequestID: "r", Message: "m", Level: LevelInfo}.Validate(), "timestamp")
	require.ErrorContains(t, Event{RequestID: "r", Message: "m", Level: "DEBUG", Timestamp: now}.Validate(), "unknown level")
}
