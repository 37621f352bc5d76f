package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// supervise runs fn under a panic-recovering wrapper and restarts it with
// backoff (capped, same schedule as stream reconnects) whenever it returns
// without ctx being done. A task only returns voluntarily on ctx
// cancellation or a stop signal it checks itself; anything else — a panic,
// or fn returning early for any other reason — is treated as a crash and
// restarted, so one failing task (or one failing user, inside a
// per-session dispatcher) never takes the whole daemon down (spec §7).
func supervise(ctx context.Context, log zerolog.Logger, name string, fn func(context.Context)) {
	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("task", name).Interface("panic", r).Msg("supervised task panicked, restarting")
				}
			}()
			fn(ctx)
		}()

		if ctx.Err() != nil {
			return
		}

		log.Warn().Str("task", name).Dur("retry_in", backoff).Msg("supervised task exited, restarting")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// protectOnce runs fn once under a panic-recovering wrapper without
// restarting it. Used for per-session dispatchers, whose normal return
// (both stream channels closed) marks a legitimate session teardown rather
// than a crash — restarting it would spin against closed channels.
func protectOnce(log zerolog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", name).Interface("panic", r).Msg("supervised task panicked")
		}
	}()
	fn()
}
