// Package config loads and validates the settings for both coldstart
// binaries: the worker (fxrunner) and the recording controller
// (fxrecorder).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// RunnerConfig configures the worker side: where sessions live, what
// address it listens on, which browser binary a build archive must
// contain, and where to fetch that archive from.
type RunnerConfig struct {
	SessionRoot   string `mapstructure:"session_root"`
	ListenAddr    string `mapstructure:"listen_addr"`
	BrowserBinary string `mapstructure:"browser_binary"`

	ArtifactProvider string `mapstructure:"artifact_provider"`
	LocalBasePath    string `mapstructure:"local_base_path"`
	S3Bucket         string `mapstructure:"s3_bucket"`
	S3Region         string `mapstructure:"s3_region"`
	AzureContainerURL string `mapstructure:"azure_container_url"`
	GCSBucket        string `mapstructure:"gcs_bucket"`
	B2Bucket         string `mapstructure:"b2_bucket"`
	B2KeyID          string `mapstructure:"b2_key_id"`
	B2Key            string `mapstructure:"b2_key"`

	RebootMaxPerDay   int    `mapstructure:"reboot_max_per_day"`
	RebootHistoryPath string `mapstructure:"reboot_history_path"`

	PoolWorkers   int `mapstructure:"pool_workers"`
	PoolQueueSize int `mapstructure:"pool_queue_size"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// DefaultRunnerConfig returns a RunnerConfig with the teacher's
// convention of shipping safe, non-empty defaults for everything that
// isn't secret or environment-specific.
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		SessionRoot:      defaultSessionRoot(),
		ListenAddr:       "0.0.0.0:7350",
		BrowserBinary:    defaultBrowserBinary(),
		ArtifactProvider: "local",
		LocalBasePath:    filepath.Join(defaultSessionRoot(), "builds"),
		PoolWorkers:      2,
		PoolQueueSize:    8,
		LogLevel:         "info",
		LogFormat:        "text",
		LogMaxSizeMB:     50,
		LogMaxBackups:    3,
	}
}

// RecorderConfig configures the controller side: the worker it dials,
// its reconnect schedule across the worker's reboot, and where it
// writes recordings. The recording pipeline itself (trace capture,
// metric extraction) is external to the protocol this repository
// implements; this field only tells that collaborator where to put
// its output.
type RecorderConfig struct {
	WorkerAddr            string `mapstructure:"worker_addr"`
	ReconnectInitialDelay int    `mapstructure:"reconnect_initial_delay_seconds"`
	ReconnectMaxTries     int    `mapstructure:"reconnect_max_tries"`
	OutputDir             string `mapstructure:"output_dir"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// DefaultRecorderConfig returns a RecorderConfig with defaults matching
// the fixed reconnect schedule from spec.md §4.6.
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		WorkerAddr:            "127.0.0.1:7350",
		ReconnectInitialDelay: 30,
		ReconnectMaxTries:     4,
		OutputDir:             "./recordings",
		LogLevel:              "info",
		LogFormat:             "text",
		LogMaxSizeMB:          50,
		LogMaxBackups:         3,
	}
}

// LoadRunnerConfig reads a RunnerConfig from cfgFile (or the default
// search path when empty), applying BREEZE_-style env overrides under
// the COLDSTART_ prefix, then validates it tiered: fatal errors block
// startup, warnings are logged and the offending values clamped.
func LoadRunnerConfig(cfgFile string) (*RunnerConfig, error) {
	cfg := DefaultRunnerConfig()

	v := newViper(cfgFile, "runner")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode runner config: %w", err)
	}

	result := cfg.Validate()
	for _, w := range result.Warnings {
		slog.Warn("runner config validation", "error", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			slog.Error("runner config validation fatal", "error", f)
		}
		return nil, fmt.Errorf("config: fatal validation error: %v", result.Fatals[0])
	}

	return cfg, nil
}

// LoadRecorderConfig is LoadRunnerConfig's counterpart for the
// controller side.
func LoadRecorderConfig(cfgFile string) (*RecorderConfig, error) {
	cfg := DefaultRecorderConfig()

	v := newViper(cfgFile, "recorder")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode recorder config: %w", err)
	}

	result := cfg.Validate()
	for _, w := range result.Warnings {
		slog.Warn("recorder config validation", "error", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			slog.Error("recorder config validation fatal", "error", f)
		}
		return nil, fmt.Errorf("config: fatal validation error: %v", result.Fatals[0])
	}

	return cfg, nil
}

func newViper(cfgFile, name string) *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}
	v.AutomaticEnv()
	v.SetEnvPrefix("COLDSTART")
	return v
}

func defaultSessionRoot() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "coldstart", "sessions")
	case "darwin":
		return "/Library/Application Support/coldstart/sessions"
	default:
		return "/var/lib/coldstart/sessions"
	}
}

func defaultBrowserBinary() string {
	if runtime.GOOS == "windows" {
		return "firefox.exe"
	}
	return "firefox"
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "coldstart")
	case "darwin":
		return "/Library/Application Support/coldstart"
	default:
		return "/etc/coldstart"
	}
}
