package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trainer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, filepath.Join(home, ".smart-trainer", "devices.json"), cfg.StateFile)
	assert.Equal(t, 10*time.Second, cfg.Bluetooth.ScanTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Bluetooth.CommandPoll)
	assert.False(t, cfg.Bluetooth.Mock)
	assert.Equal(t, "Programs.json", cfg.Workout.ProgramsFile)
	assert.Equal(t, "csv", cfg.Workout.LogFormat)
	assert.Equal(t, "tcx", cfg.Workout.ActivityFormat)
	assert.Equal(t, time.Duration(0), cfg.Workout.EndGrace)
	assert.Equal(t, 185, cfg.User.MaxHR)
	assert.Equal(t, "smart-trainer.log", cfg.Log.File)
	assert.False(t, cfg.Headless)
}

func TestLoad_ConfigFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
devices:
  heart_rate:
    address: "AA:BB:CC:DD:EE:01"
    name: "HRM-Pro"
  trainer:
    name: "KICKR CORE"
bluetooth:
  scan_timeout: 20s
user:
  max_hr: 192
  ftp: 260
workout:
  log_format: Parquet
  activity_format: fit
  end_grace: 30s
log:
  compress: true
`)

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, DeviceConfig{Address: "AA:BB:CC:DD:EE:01", Name: "HRM-Pro"}, cfg.HeartRate)
	assert.Equal(t, DeviceConfig{Name: "KICKR CORE"}, cfg.Trainer)
	assert.Equal(t, 20*time.Second, cfg.Bluetooth.ScanTimeout)
	assert.Equal(t, 192, cfg.User.MaxHR)
	assert.Equal(t, 260, cfg.User.FTP)
	assert.Equal(t, "parquet", cfg.Workout.LogFormat)
	assert.Equal(t, "fit", cfg.Workout.ActivityFormat)
	assert.Equal(t, 30*time.Second, cfg.Workout.EndGrace)
	assert.True(t, cfg.Log.Compress)
}

func TestLoad_HomeDirectory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".smart-trainer")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "smart-trainer.yaml"), []byte("headless: true\n"), 0o644))

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.True(t, cfg.Headless)
	assert.Equal(t, filepath.Join(dir, "smart-trainer.yaml"), cfg.File)
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
devices:
  trainer:
    address: "from-file"
    name: "from-file"
workout:
  log_dir: "file-logs"
`)
	t.Setenv("SMART_TRAINER_DEVICES_TRAINER_NAME", "from-env")
	t.Setenv("SMART_TRAINER_WORKOUT_LOG_DIR", "env-logs")

	cfg, err := Load([]string{"--config", path, "--trainer-name", "from-flag", "--mock", "--headless"})
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Trainer.Address)
	assert.Equal(t, "from-flag", cfg.Trainer.Name)
	assert.Equal(t, "env-logs", cfg.Workout.LogDir)
	assert.True(t, cfg.Bluetooth.Mock)
	assert.True(t, cfg.Headless)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	_, err = Load([]string{"--no-such-flag"})
	assert.Error(t, err)

	_, err = Load([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)

	_, err = Load([]string{"--config", writeConfig(t, "workout:\n  log_format: xlsx\n")})
	assert.ErrorContains(t, err, "workout.log_format")

	_, err = Load([]string{"--config", writeConfig(t, "workout:\n  activity_format: gpx\n")})
	assert.ErrorContains(t, err, "workout.activity_format")

	_, err = Load([]string{"--config", writeConfig(t, "workout:\n  end_grace: -1s\n")})
	assert.ErrorContains(t, err, "workout.end_grace")
}
