package lock

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exp")

	l, err := Acquire(dir, time.Second)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), l.Path())
	require.NoError(t, l.Release())

	again, err := Acquire(dir, time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquire_BusyTimesOut(t *testing.T) {
	dir := t.TempDir()

	held, err := Acquire(dir, time.Second)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = Acquire(dir, 300*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAcquire_ZeroTimeoutFailsFast(t *testing.T) {
	dir := t.TempDir()

	held, err := Acquire(dir, time.Second)
	require.NoError(t, err)
	defer held.Release()

	for _, timeout := range []time.Duration{0, -time.Second} {
		start := time.Now()
		_, err = Acquire(dir, timeout)
		require.Error(t, err, "timeout %v", timeout)
		assert.True(t, errors.Is(err, ErrBusy), "timeout %v: got %v", timeout, err)
		assert.Less(t, time.Since(start), time.Second, "timeout %v", timeout)
	}
}

func TestAcquire_ZeroTimeoutFreeLock(t *testing.T) {
	l, err := Acquire(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}
