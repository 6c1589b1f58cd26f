//go:build !windows && !linux

package runner

import (
	"fmt"
	"os/exec"
)

// osShutdownProvider restarts the host by shelling out to shutdown(8).
// Used on platforms (darwin, the BSDs) where an unprivileged reboot(2)
// equivalent isn't available to Go without cgo.
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
	if err := exec.Command("shutdown", "-r", "now").Run(); err != nil {
		return fmt.Errorf("runner: shutdown -r now: %w", err)
	}

	p.breaker.record()
	return nil
}
