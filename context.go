package pointcloud

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context canceled when the process
// receives SIGINT or SIGTERM, for use as the cancellation token threaded
// through builder passes and query engine calls (spec §5). Unlike a
// plain context.WithCancel, the cancellation carries a *CancelledError
// cause: a builder pass or query call that observes ctx.Err() can
// recover that typed error via context.Cause(ctx) and return it as-is
// instead of having to wrap a bare context.Canceled itself.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, cancCause := context.WithCancelCause(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		// A second signal terminates immediately, useful if a spill writer
		// or tile fsync hangs during shutdown.
		signal.Stop(sig)
		cancCause(&CancelledError{Err: fmt.Errorf("received %v", s)})
	}()
	return ctx, func() { cancCause(nil) }
}
