package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInit_DebugBelowLevelIsSuppressed(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Debug("test", "should not appear")
	assert.Empty(t, buf.String())
}

func TestInit_MessagesAtOrAboveLevelAreWritten(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Info("test", "session %s started", "s1")
	out := buf.String()
	assert.Contains(t, out, "session s1 started")
	assert.Contains(t, out, "subsystem=test")
}

func TestError_IncludesErrorAttribute(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Error("test", assert.AnError, "call failed")
	assert.Contains(t, buf.String(), "error="+assert.AnError.Error())
}

func TestTruncateSessionID_ShortIDsAreUntouched(t *testing.T) {
	assert.Equal(t, "short", TruncateSessionID("short"))
}

func TestTruncateSessionID_LongIDsAreTruncated(t *testing.T) {
	assert.Equal(t, "abcdefgh...", TruncateSessionID("abcdefghijklmnop"))
}

func TestAudit_FormatsKeyValuePairsAndTruncatesIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Audit(AuditEvent{
		Action:    "session_authenticate",
		Outcome:   "failure",
		SessionID: "sessionid-0123456789",
		Token:     "tokvalue-0123456789",
		Error:     "SESSION_LIMIT_EXCEEDED",
	})

	out := buf.String()
	assert.True(t, strings.Contains(out, "[AUDIT]"))
	assert.Contains(t, out, "action=session_authenticate")
	assert.Contains(t, out, "outcome=failure")
	assert.Contains(t, out, "session=sessioni...")
	assert.Contains(t, out, "token=tokvalue...")
	assert.Contains(t, out, "error=SESSION_LIMIT_EXCEEDED")
}

func TestLogLevel_StringCoversAllValues(t *testing.T) {
	cases := map[LogLevel]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
	}
	for level, want := range cases {
		assert.Equal(t, want, level.String())
	}
}
