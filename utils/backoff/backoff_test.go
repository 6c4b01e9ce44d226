package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffAttempts(t *testing.T) {
	require := require.New(t)

	b := New(Config{
		Min:          250 * time.Millisecond,
		Max:          1 * time.Second,
		Factor:       2,
		NoJitter:     true,
		RetryTimeout: 2 * time.Second,
	})
	var attempts int
	a := b.Attempts()
	for a.WaitForNext() {
		attempts++
	}
	require.Error(a.Err())
	require.Equal(4, attempts)
}

func TestBackoffAttemptsAlwaysExecutesOneAttemptRegardlessOfTimeout(t *testing.T) {
	require := require.New(t)

	b := New(Config{
		Min:          time.Second,
		RetryTimeout: 100 * time.Millisecond,
	})

	var attempts int
	a := b.Attempts()
	for a.WaitForNext() {
		attempts++
	}
	require.Error(a.Err())
	require.Equal(1, attempts)
}
