package config

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunnerValidateEmptyListenAddrIsFatal(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.ListenAddr = ""
	result := cfg.Validate()
	require.True(t, result.HasFatals())
}

func TestRunnerValidateMalformedListenAddrIsFatal(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.ListenAddr = "not-an-address"
	result := cfg.Validate()
	require.True(t, result.HasFatals())
}

func TestRunnerValidateUnknownProviderIsFatal(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.ArtifactProvider = "dropbox"
	result := cfg.Validate()
	require.True(t, result.HasFatals())
}

func TestRunnerValidateEmptyProviderDefaultsToLocal(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.ArtifactProvider = ""
	result := cfg.Validate()
	require.False(t, result.HasFatals())
	require.Equal(t, "local", cfg.ArtifactProvider)
}

func TestRunnerValidatePoolWorkersClamping(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.PoolWorkers = 0
	result := cfg.Validate()
	require.False(t, result.HasFatals())
	require.NotEmpty(t, result.Warnings)
	require.Equal(t, 1, cfg.PoolWorkers)
}

func TestRunnerValidatePoolWorkersHighClamping(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.PoolWorkers = 999
	result := cfg.Validate()
	require.False(t, result.HasFatals())
	require.Equal(t, 64, cfg.PoolWorkers)
}

func TestRunnerValidateRebootMaxWithoutHistoryPathDisables(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.RebootMaxPerDay = 3
	cfg.RebootHistoryPath = ""
	result := cfg.Validate()
	require.False(t, result.HasFatals())
	require.NotEmpty(t, result.Warnings)
	require.Equal(t, 0, cfg.RebootMaxPerDay)
}

func TestRunnerValidateNegativeRebootMaxDisables(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.RebootMaxPerDay = -1
	result := cfg.Validate()
	require.False(t, result.HasFatals())
	require.Equal(t, 0, cfg.RebootMaxPerDay)
}

func TestRunnerValidateUnknownLogLevelIsWarning(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.LogLevel = "verbose"
	result := cfg.Validate()
	require.False(t, result.HasFatals())
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w.Error(), "log_level") {
			found = true
		}
	}
	require.True(t, found)
}

func TestRunnerValidateCleanConfigHasNoErrors(t *testing.T) {
	cfg := DefaultRunnerConfig()
	result := cfg.Validate()
	require.False(t, result.HasFatals())
	require.Empty(t, result.Warnings)
}

func TestRecorderValidateEmptyWorkerAddrIsFatal(t *testing.T) {
	cfg := DefaultRecorderConfig()
	cfg.WorkerAddr = ""
	result := cfg.Validate()
	require.True(t, result.HasFatals())
}

func TestRecorderValidateMalformedWorkerAddrIsFatal(t *testing.T) {
	cfg := DefaultRecorderConfig()
	cfg.WorkerAddr = "localhost"
	result := cfg.Validate()
	require.True(t, result.HasFatals())
}

func TestRecorderValidateEmptyOutputDirIsFatal(t *testing.T) {
	cfg := DefaultRecorderConfig()
	cfg.OutputDir = ""
	result := cfg.Validate()
	require.True(t, result.HasFatals())
}

func TestRecorderValidateReconnectTriesClamping(t *testing.T) {
	cfg := DefaultRecorderConfig()
	cfg.ReconnectMaxTries = 0
	cfg.ReconnectInitialDelay = -5
	result := cfg.Validate()
	require.False(t, result.HasFatals())
	require.Equal(t, 1, cfg.ReconnectMaxTries)
	require.Equal(t, 1, cfg.ReconnectInitialDelay)
}

func TestRecorderValidateCleanConfigHasNoErrors(t *testing.T) {
	cfg := DefaultRecorderConfig()
	result := cfg.Validate()
	require.False(t, result.HasFatals())
	require.Empty(t, result.Warnings)
}

func TestHasFatals(t *testing.T) {
	var r ValidationResult
	require.False(t, r.HasFatals())
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	require.True(t, r.HasFatals())
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.ListenAddr = "bad"
	cfg.PoolWorkers = 0
	result := cfg.Validate()
	require.GreaterOrEqual(t, len(result.AllErrors()), 2)
}
