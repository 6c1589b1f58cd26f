//go:build linux

package runner

import (
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
)

// osShutdownProvider restarts the host via the Linux reboot(2) syscall,
// falling back to shelling out to shutdown(8) when the process lacks
// CAP_SYS_BOOT (e.g. running unprivileged in a container during
// development).
type osShutdownProvider struct {
	breaker *rebootBreaker
}

// NewShutdownProvider returns the platform ShutdownProvider. maxPerDay <= 0
// disables the reboot circuit breaker.
func NewShutdownProvider(maxPerDay int, historyPath string) ShutdownProvider {
	return &osShutdownProvider{breaker: newRebootBreaker(maxPerDay, historyPath)}
}

func (p *osShutdownProvider) InitiateRestart(reason string) error {
	if !p.breaker.allow() {
		return errBreakerTripped(p.breaker.maxPerDay)
	}

	shutdownLog.Info("initiating restart", "reason", reason)
	if err := unix.Sync(); err != nil {
		shutdownLog.Warn("sync before reboot failed", "error", err)
	}
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		shutdownLog.Warn("reboot(2) failed, falling back to shutdown(8)", "error", err)
		if fallbackErr := exec.Command("shutdown", "-r", "now").Run(); fallbackErr != nil {
			return fmt.Errorf("runner: reboot(2): %v; shutdown -r now: %w", err, fallbackErr)
		}
	}

	p.breaker.record()
	return nil
}
