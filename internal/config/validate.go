package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationResult separates configuration problems that must block
// startup from ones that are safe to auto-correct and continue.
// Grounded on the teacher's tiered Validate, which fatals on malformed
// identity/auth fields but only warns (after clamping) on out-of-range
// tunables.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal error was recorded.
func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns fatals followed by warnings, for callers that want
// a single flat list.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"warning": true,
	"error": true,
}

var validProviders = map[string]bool{
	"local": true,
	"s3":    true,
	"azure": true,
	"gcs":   true,
	"b2":    true,
}

// Validate checks a RunnerConfig and clamps safe-to-correct fields in
// place. An empty session root or browser binary, a missing or malformed
// listen address, or an unknown artifact provider is fatal; everything
// else degrades to a warning.
func (c *RunnerConfig) Validate() ValidationResult {
	var r ValidationResult

	if c.SessionRoot == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("session_root must not be empty"))
	}

	if c.ListenAddr == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("listen_addr must not be empty"))
	} else if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		r.Fatals = append(r.Fatals, fmt.Errorf("listen_addr %q is not host:port: %w", c.ListenAddr, err))
	}

	if c.BrowserBinary == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("browser_binary must not be empty"))
	}

	provider := strings.ToLower(c.ArtifactProvider)
	if provider == "" {
		c.ArtifactProvider = "local"
	} else if !validProviders[provider] {
		r.Fatals = append(r.Fatals, fmt.Errorf("artifact_provider %q is not one of local, s3, azure, gcs, b2", c.ArtifactProvider))
	}

	if c.RebootMaxPerDay < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("reboot_max_per_day %d is negative, disabling the breaker", c.RebootMaxPerDay))
		c.RebootMaxPerDay = 0
	}
	if c.RebootMaxPerDay > 0 && c.RebootHistoryPath == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("reboot_max_per_day set but reboot_history_path is empty, disabling the breaker"))
		c.RebootMaxPerDay = 0
	}

	if c.PoolWorkers < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("pool_workers %d is below minimum 1, clamping", c.PoolWorkers))
		c.PoolWorkers = 1
	} else if c.PoolWorkers > 64 {
		r.Warnings = append(r.Warnings, fmt.Errorf("pool_workers %d exceeds maximum 64, clamping", c.PoolWorkers))
		c.PoolWorkers = 64
	}

	if c.PoolQueueSize < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("pool_queue_size %d is below minimum 1, clamping", c.PoolQueueSize))
		c.PoolQueueSize = 1
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return r
}

// Validate checks a RecorderConfig the same way RunnerConfig.Validate
// does: a malformed worker address is fatal, out-of-range reconnect
// tunables are clamped with a warning.
func (c *RecorderConfig) Validate() ValidationResult {
	var r ValidationResult

	if c.WorkerAddr == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("worker_addr must not be empty"))
	} else if _, _, err := net.SplitHostPort(c.WorkerAddr); err != nil {
		r.Fatals = append(r.Fatals, fmt.Errorf("worker_addr %q is not host:port: %w", c.WorkerAddr, err))
	}

	if c.OutputDir == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("output_dir must not be empty"))
	}

	if c.ReconnectInitialDelay < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("reconnect_initial_delay_seconds %d is below minimum 1, clamping", c.ReconnectInitialDelay))
		c.ReconnectInitialDelay = 1
	}
	if c.ReconnectMaxTries < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("reconnect_max_tries %d is below minimum 1, clamping", c.ReconnectMaxTries))
		c.ReconnectMaxTries = 1
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return r
}
