package workerpool

import (
	"context"
	"fmt"
)

// RunBlocking submits fn to p and waits for it to finish or ctx to be
// cancelled, returning fn's error. Used by the worker state machine to
// offload archive extraction without blocking the phase-ack loop's own
// goroutine, per the one-request-at-a-time scheduling model: every await
// on an offloaded task completes before the next phase message is sent.
// Session directory removal does not go through the pool; it runs on the
// caller's goroutine.
func RunBlocking(ctx context.Context, p *Pool, fn func() error) error {
	result := make(chan error, 1)

	if !p.Submit(func() {
		result <- fn()
	}) {
		return fmt.Errorf("workerpool: queue full, rejected blocking task")
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
