package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeHolder(t *testing.T, path string, h Holder) {
	t.Helper()
	data, err := yaml.Marshal(h)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "stackrun.lock")

	require.NoError(t, Acquire(path, "emr-test-stack-1"))
	h, err := Current(path)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, os.Getpid(), h.PID)
	assert.Equal(t, "emr-test-stack-1", h.Stack)
	assert.WithinDuration(t, time.Now(), h.Since, time.Minute)

	require.NoError(t, Acquire(path, "emr-test-stack-2"), "reacquiring our own lock is allowed")
	h, err = Current(path)
	require.NoError(t, err)
	assert.Equal(t, "emr-test-stack-2", h.Stack)

	require.NoError(t, Release(path))
	h, err = Current(path)
	require.NoError(t, err)
	assert.Nil(t, h)
	require.NoError(t, Release(path))
}

func TestAcquire_HeldByOtherProcess(t *testing.T) {
	if !alive(1) {
		t.Skip("cannot signal PID 1 here")
	}
	path := filepath.Join(t.TempDir(), "stackrun.lock")
	writeHolder(t, path, Holder{PID: 1, Stack: "other", Since: time.Now()})

	err := Acquire(path, "mine")
	require.ErrorIs(t, err, ErrHeld)
	assert.Contains(t, err.Error(), "PID 1")
	assert.Contains(t, err.Error(), "stack other")
}

func TestAcquire_TakesOverStaleLock(t *testing.T) {
	tests := map[string][]byte{
		"garbage":  []byte("not: [yaml"),
		"dead pid": []byte("pid: -5\nstack: old\n"),
		"empty":    nil,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stackrun.lock")
			require.NoError(t, os.WriteFile(path, content, 0o644))

			h, err := Current(path)
			require.NoError(t, err)
			assert.Nil(t, h)

			require.NoError(t, Acquire(path, "new"))
			h, err = Current(path)
			require.NoError(t, err)
			require.NotNil(t, h)
			assert.Equal(t, "new", h.Stack)
		})
	}
}

func TestCurrent_Missing(t *testing.T) {
	h, err := Current(filepath.Join(t.TempDir(), "absent.lock"))
	require.NoError(t, err)
	assert.Nil(t, h)
}
