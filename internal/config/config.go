// Package config resolves the controller settings from defaults, an optional
// YAML file, SMART_TRAINER_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "SMART_TRAINER"
	FileName  = "smart-trainer"
)

type DeviceConfig struct {
	Address string
	Name    string
}

type BluetoothConfig struct {
	ScanTimeout time.Duration
	CommandPoll time.Duration
	Mock        bool
}

type UserConfig struct {
	Name  string
	MaxHR int
	FTP   int
}

type WorkoutConfig struct {
	ProgramsFile   string
	LogDir         string
	LogFormat      string // csv or parquet
	ActivityDir    string
	ActivityFormat string // tcx or fit
	HistoryDB      string
	EndGrace       time.Duration // 0 waits for an explicit save or discard
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Stderr     bool
}

type Config struct {
	HeartRate DeviceConfig
	Trainer   DeviceConfig
	// StateFile remembers the addresses devices last connected to
	StateFile string
	Bluetooth BluetoothConfig
	User      UserConfig
	Workout   WorkoutConfig
	Log       LogConfig
	Headless  bool

	// File is the config file that was read, empty when none was found.
	File string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("devices.heart_rate.address", "")
	v.SetDefault("devices.heart_rate.name", "")
	v.SetDefault("devices.trainer.address", "")
	v.SetDefault("devices.trainer.name", "")
	v.SetDefault("devices.state_file", filepath.Join(homeDir(), "."+FileName, "devices.json"))

	v.SetDefault("bluetooth.scan_timeout", 10*time.Second)
	v.SetDefault("bluetooth.command_poll", 100*time.Millisecond)
	v.SetDefault("bluetooth.mock", false)

	v.SetDefault("user.name", "Rider")
	v.SetDefault("user.max_hr", 185)
	v.SetDefault("user.ftp", 200)

	v.SetDefault("workout.programs_file", "Programs.json")
	v.SetDefault("workout.log_dir", "logs")
	v.SetDefault("workout.log_format", "csv")
	v.SetDefault("workout.activity_dir", "activities")
	v.SetDefault("workout.activity_format", "tcx")
	v.SetDefault("workout.history_db", filepath.Join("data", "history.db"))
	v.SetDefault("workout.end_grace", time.Duration(0))

	v.SetDefault("log.file", "smart-trainer.log")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.stderr", false)

	v.SetDefault("headless", false)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// flagKeys maps command line flags onto config keys. Flags named after their key
// are bound as a set.
var flagKeys = map[string]string{
	"hr-address":      "devices.heart_rate.address",
	"hr-name":         "devices.heart_rate.name",
	"trainer-address": "devices.trainer.address",
	"trainer-name":    "devices.trainer.name",
	"mock":            "bluetooth.mock",
	"programs":        "workout.programs_file",
	"log-file":        "log.file",
	"log-stderr":      "log.stderr",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("smart-trainer", pflag.ContinueOnError)
	fs.String("config", "", "config file (default ./smart-trainer.yaml or $HOME/.smart-trainer/smart-trainer.yaml)")
	fs.Bool("headless", false, "run without the terminal dashboard")
	fs.String("hr-address", "", "heart rate monitor address")
	fs.String("hr-name", "", "heart rate monitor advertised name")
	fs.String("trainer-address", "", "trainer address")
	fs.String("trainer-name", "", "trainer advertised name")
	fs.Bool("mock", false, "use simulated peripherals instead of the bluetooth adapter")
	fs.String("programs", "", "workout programs file")
	fs.String("log-file", "", "log file path")
	fs.Bool("log-stderr", false, "also write the log to stderr")
	return fs
}

// Load parses args (without the program name) and resolves the configuration.
// pflag.ErrHelp is returned as is when help was requested.
func Load(args []string) (Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if file, _ := fs.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", "."+FileName))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		HeartRate: DeviceConfig{
			Address: v.GetString("devices.heart_rate.address"),
			Name:    v.GetString("devices.heart_rate.name"),
		},
		Trainer: DeviceConfig{
			Address: v.GetString("devices.trainer.address"),
			Name:    v.GetString("devices.trainer.name"),
		},
		StateFile: v.GetString("devices.state_file"),
		Bluetooth: BluetoothConfig{
			ScanTimeout: v.GetDuration("bluetooth.scan_timeout"),
			CommandPoll: v.GetDuration("bluetooth.command_poll"),
			Mock:        v.GetBool("bluetooth.mock"),
		},
		User: UserConfig{
			Name:  v.GetString("user.name"),
			MaxHR: v.GetInt("user.max_hr"),
			FTP:   v.GetInt("user.ftp"),
		},
		Workout: WorkoutConfig{
			ProgramsFile:   v.GetString("workout.programs_file"),
			LogDir:         v.GetString("workout.log_dir"),
			LogFormat:      strings.ToLower(v.GetString("workout.log_format")),
			ActivityDir:    v.GetString("workout.activity_dir"),
			ActivityFormat: strings.ToLower(v.GetString("workout.activity_format")),
			HistoryDB:      v.GetString("workout.history_db"),
			EndGrace:       v.GetDuration("workout.end_grace"),
		},
		Log: LogConfig{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
			Compress:   v.GetBool("log.compress"),
			Stderr:     v.GetBool("log.stderr"),
		},
		Headless: v.GetBool("headless"),
		File:     v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Workout.LogFormat {
	case "csv", "parquet":
	default:
		return fmt.Errorf("workout.log_format: unsupported format %q", c.Workout.LogFormat)
	}
	switch c.Workout.ActivityFormat {
	case "tcx", "fit":
	default:
		return fmt.Errorf("workout.activity_format: unsupported format %q", c.Workout.ActivityFormat)
	}
	if c.Bluetooth.ScanTimeout <= 0 {
		return fmt.Errorf("bluetooth.scan_timeout must be positive, got %v", c.Bluetooth.ScanTimeout)
	}
	if c.Workout.EndGrace < 0 {
		return fmt.Errorf("workout.end_grace must not be negative, got %v", c.Workout.EndGrace)
	}
	return nil
}
