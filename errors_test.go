package sched

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHalt_PanicsWithFatalInvariant(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		fi, ok := r.(*FatalInvariant)
		require.True(t, ok)
		require.Contains(t, fi.Error(), "runqueue full")
	}()
	halt("runqueue full (capacity %d)", 2048)
}

func TestFatalInvariant_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	fi := &FatalInvariant{Message: "bad thing", Cause: cause}
	require.ErrorIs(t, fi, cause)
	require.Contains(t, fi.Error(), "bad thing")
	require.Contains(t, fi.Error(), "boom")
}
