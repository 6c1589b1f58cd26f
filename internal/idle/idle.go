// Package idle detects when the reference machine has gone quiet enough
// to start a cold-start measurement: no disk I/O and a near-saturated
// CPU idle fraction over one sample interval.
package idle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/mozfx/coldstart/internal/logging"
)

var log = logging.L("idle")

// AttemptCount, SampleInterval, and Threshold are fixed design
// parameters, not runtime configurable (spec.md §4.4 — "design
// parameters, not runtime configurable").
const (
	AttemptCount   = 30
	SampleInterval = 500 * time.Millisecond
	Threshold      = 0.95
)

// ErrTimeout is returned when the machine never went idle within
// AttemptCount samples.
var ErrTimeout = errors.New("idle: timed out waiting for CPU and disk to become idle")

// IOCounters is a monotonically non-decreasing pair of disk I/O totals.
type IOCounters struct {
	Reads  uint64
	Writes uint64
}

// PerfProvider is the abstract seam over OS performance counters. The
// shipped implementation targets gopsutil; tests substitute a fake.
type PerfProvider interface {
	DiskIOCounters() (IOCounters, error)
	CPUIdleFraction() (float64, error)
}

// gopsutilPerfProvider is the default cross-platform PerfProvider,
// replacing the original implementation's Windows-only
// GetSystemTimes/IOCTL_DISK_PERFORMANCE calls. It keeps the previous CPU
// times sample, so each idle fraction covers the time since the last call
// (the first call covers the time since boot).
type gopsutilPerfProvider struct {
	prevIdle  float64
	prevTotal float64
}

// NewPerfProvider returns the default gopsutil-backed PerfProvider.
func NewPerfProvider() PerfProvider {
	return &gopsutilPerfProvider{}
}

func (gopsutilPerfProvider) DiskIOCounters() (IOCounters, error) {
	counters, err := disk.IOCounters()
	if err != nil {
		return IOCounters{}, fmt.Errorf("idle: disk io counters: %w", err)
	}

	var c IOCounters
	for _, stat := range counters {
		c.Reads += stat.ReadCount
		c.Writes += stat.WriteCount
	}
	return c, nil
}

func (p *gopsutilPerfProvider) CPUIdleFraction() (float64, error) {
	times, err := cpu.Times(false)
	if err != nil {
		return 0, fmt.Errorf("idle: cpu times: %w", err)
	}
	if len(times) == 0 {
		return 0, fmt.Errorf("idle: no cpu time sample available")
	}

	t := times[0]
	total := t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal + t.Guest + t.GuestNice
	deltaIdle := t.Idle - p.prevIdle
	deltaTotal := total - p.prevTotal
	p.prevIdle, p.prevTotal = t.Idle, total
	if deltaTotal <= 0 {
		return 0, nil
	}
	return deltaIdle / deltaTotal, nil
}

// WaitForIdle polls p until disk I/O stops changing and the CPU idle
// fraction clears Threshold, sleeping SampleInterval between samples, up
// to AttemptCount times. Returns nil on the first idle sample,
// ErrTimeout after the cap, or the first sampling error encountered.
func WaitForIdle(ctx context.Context, p PerfProvider) error {
	prev, err := p.DiskIOCounters()
	if err != nil {
		return err
	}

	for attempt := 0; attempt < AttemptCount; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(SampleInterval):
		}

		curr, err := p.DiskIOCounters()
		if err != nil {
			return err
		}
		idleFrac, err := p.CPUIdleFraction()
		if err != nil {
			return err
		}

		deltaReads := curr.Reads - prev.Reads
		deltaWrites := curr.Writes - prev.Writes
		prev = curr

		if deltaReads == 0 && deltaWrites == 0 && idleFrac >= Threshold {
			log.Info("machine went idle", "attempt", attempt+1, "cpuIdleFraction", idleFrac)
			return nil
		}
	}

	return ErrTimeout
}
