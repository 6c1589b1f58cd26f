//go:build windows

package runner

import (
	"fmt"
	"os/exec"
)

// osShutdownProvider restarts the host via the Windows shutdown.exe utility.
//
// Grounded on RebootManager.executeReboot in the teacher's
// internal/patching/reboot_windows.go, which shells out to the same
// "shutdown /r /t 0 /d p:2:17" invocation (reason code p:2:17 is
// "Operating System: Reconfiguration (Planned)").
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
	if err := exec.Command("shutdown", "/r", "/t", "0", "/d", "p:2:17").Run(); err != nil {
		return fmt.Errorf("runner: shutdown /r: %w", err)
	}

	p.breaker.record()
	return nil
}
