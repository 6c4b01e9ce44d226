package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewErrorDefaultRecoverable(t *testing.T) {
	require := require.New(t)

	require.True(NewError(ErrNetwork, "dial failed").Recoverable)
	require.False(NewError(ErrChecksumMismatch, "mismatch").Recoverable)
	require.False(NewError(ErrInvalidInput, "bad url").Recoverable)
}

func TestErrorWithRecoverableOverride(t *testing.T) {
	require := require.New(t)

	e := NewError(ErrHTTPStatus, "got 404")
	require.True(e.Recoverable)

	fatal := e.WithRecoverable(false)
	require.False(fatal.Recoverable)
	// The original is untouched.
	require.True(e.Recoverable)
}

func TestErrorImplementsError(t *testing.T) {
	require := require.New(t)

	var err error = NewError(ErrIO, "disk full")
	require.Contains(err.Error(), "IoError")
	require.Contains(err.Error(), "disk full")
}
