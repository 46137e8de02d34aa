package sched

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultLogger_FiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger(&buf, LevelWarn)

	l.Log(LogEntry{Level: LevelDebug, Category: "runloop", CPU: 0, Message: "noisy"})
	require.Empty(t, buf.String())

	l.Log(LogEntry{Level: LevelError, Category: "halt", CPU: -1, Message: "fatal thing"})
	require.True(t, strings.Contains(buf.String(), "fatal thing"))
	require.True(t, strings.Contains(buf.String(), "ERROR"))
}

func TestNoOpLogger_DiscardsEverything(t *testing.T) {
	l := NewNoOpLogger()
	require.NotPanics(t, func() {
		l.Log(LogEntry{Level: LevelError, Message: "should vanish"})
	})
}

func TestSetLogger_RejectsNilByFallingBackToNoOp(t *testing.T) {
	defer SetLogger(NewDefaultLogger(os.Stderr, LevelWarn)) // restore the package default
	SetLogger(nil)
	require.NotPanics(t, func() { logf(LevelError, "x", -1, "y") })
}
