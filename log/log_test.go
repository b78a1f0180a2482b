package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// withCapturedOutput redirects the package's shared writer to buf for the
// duration of fn, restoring it and the global level afterward.
func withCapturedOutput(t *testing.T, fn func(buf *bytes.Buffer)) {
	t.Helper()
	mu.Lock()
	prevOut := out
	prevLevel := minLevel
	buf := &bytes.Buffer{}
	out = buf
	mu.Unlock()
	defer func() {
		mu.Lock()
		out = prevOut
		minLevel = prevLevel
		mu.Unlock()
	}()
	fn(buf)
}

func TestModuleLoggerTagsRecordWithModuleAndMessage(t *testing.T) {
	withCapturedOutput(t, func(buf *bytes.Buffer) {
		l := NewModuleLogger(Chain)
		l.Info("block appended", "height", 1)
		line := buf.String()
		require.Contains(t, line, "CHAIN")
		require.Contains(t, line, "block appended")
		require.Contains(t, line, "height=1")
	})
}

func TestChangeGlobalLogLevelSuppressesBelowThreshold(t *testing.T) {
	withCapturedOutput(t, func(buf *bytes.Buffer) {
		ChangeGlobalLogLevel(LvlWarn)
		l := NewModuleLogger(Node)
		l.Info("should be suppressed")
		require.Empty(t, buf.String())

		l.Warn("should appear")
		require.True(t, strings.Contains(buf.String(), "should appear"))
	})
}

func TestModuleIDStringUnknownFallsBackToUnknown(t *testing.T) {
	require.Equal(t, "UNKNOWN", ModuleID(9999).String())
	require.Equal(t, "CHAIN", Chain.String())
}

func TestLvlStringCoversEveryLevel(t *testing.T) {
	require.Equal(t, "CRIT", LvlCrit.String())
	require.Equal(t, "ERROR", LvlError.String())
	require.Equal(t, "WARN", LvlWarn.String())
	require.Equal(t, "INFO", LvlInfo.String())
	require.Equal(t, "DEBUG", LvlDebug.String())
	require.Equal(t, "TRACE", LvlTrace.String())
	require.Equal(t, "????", Lvl(99).String())
}
