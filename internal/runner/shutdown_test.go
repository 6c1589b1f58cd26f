package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRebootBreakerDisabledAllowsAlways(t *testing.T) {
	b := newRebootBreaker(0, filepath.Join(t.TempDir(), "history.json"))
	require.True(t, b.allow())
	b.record()
	require.True(t, b.allow())
}

func TestRebootBreakerTripsAfterMax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	b := newRebootBreaker(2, path)

	require.True(t, b.allow())
	b.record()
	require.True(t, b.allow())
	b.record()
	require.False(t, b.allow())
}

func TestRebootBreakerPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	b1 := newRebootBreaker(1, path)
	require.True(t, b1.allow())
	b1.record()

	b2 := newRebootBreaker(1, path)
	require.False(t, b2.allow())
}

func TestRebootBreakerForgetsStaleEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	b := newRebootBreaker(1, path)
	b.save([]time.Time{time.Now().Add(-25 * time.Hour)})
	require.True(t, b.allow())
}

func TestRebootBreakerIgnoresCorruptHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	b := newRebootBreaker(1, path)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))
	require.True(t, b.allow())
}
