package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuditLogWritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", "json", &buf).WithComponent("activity_service")

	log.AuditLog("usr_1", "user.login", map[string]interface{}{"session_id": "ses_1"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "true", entry["audit"])
	require.Equal(t, "usr_1", entry["user_id"])
	require.Equal(t, "user.login", entry["action"])
	require.Equal(t, "activity_service", entry["component"])
	details, ok := entry["details"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "ses_1", details["session_id"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("warn", "json", &buf)

	log.Debug().Msg("hidden")
	log.Info().Msg("hidden too")
	require.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	require.Contains(t, buf.String(), "shown")
}
