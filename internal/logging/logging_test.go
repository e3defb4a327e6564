package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/config"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trainer.log")

	l, err := New(config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	l.Printf("Device[hr]: Connected to %s", "AA:BB")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Device[hr]: Connected to AA:BB")
}

func TestNew_Extra(t *testing.T) {
	var extra bytes.Buffer
	l, err := New(config.LogConfig{File: filepath.Join(t.TempDir(), "trainer.log")}, &extra)
	require.NoError(t, err)
	defer l.Close()

	l.Printf("WorkoutEngine: Workout started")
	assert.Contains(t, extra.String(), "WorkoutEngine: Workout started")
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trainer.log")

	l, err := New(config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)
	defer l.Close()

	l.Printf("first")
	require.NoError(t, l.Rotate())
	l.Printf("second")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "second")
	assert.NotContains(t, string(data), "first")
}

func TestNew_RequiresFile(t *testing.T) {
	_, err := New(config.LogConfig{})
	assert.Error(t, err)
}
