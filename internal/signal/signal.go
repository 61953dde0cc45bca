// Package signal adapts process signals for the CLI.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context that is cancelled when SIGINT or SIGTERM is received.
// The returned stop function should be called to release resources.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Interrupts delivers SIGINT as values on the returned channel until ctx is
// done, instead of letting it terminate the process. The chat loop uses it to
// stop the active turn.
func Interrupts(ctx context.Context) <-chan struct{} {
	sigs := make(chan os.Signal, 1)
	out := make(chan struct{}, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
