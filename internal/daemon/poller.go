package daemon

import (
	"context"
	"time"

	"github.com/quantcore/trademonitor/internal/domain"
)

// runPoller re-reads active rules from the store on a fixed interval,
// grouping them by user and reconciling each user's session and instrument
// subscriptions against the latest rule set (spec §4.5, §4.7). This is the
// only path that picks up rules created, edited, or disabled through the
// write API since the dispatcher only ever mutates its own in-memory copy.
func (d *Daemon) runPoller(ctx context.Context) {
	d.pollOnce(ctx)

	t := time.NewTicker(d.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.pollOnce(ctx)
		}
	}
}

func (d *Daemon) pollOnce(ctx context.Context) {
	rules, err := d.store.ListActiveRules(ctx, 0)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to list active rules")
		return
	}

	byUser := make(map[int64][]*domain.Rule)
	for _, r := range rules {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}

	for _, userID := range d.sessions.ActiveUserIDs() {
		if _, present := byUser[userID]; !present {
			d.maybeTearDown(userID, true)
		}
	}

	for userID, userRules := range byUser {
		d.maybeTearDown(userID, false)

		if _, ok := d.sessions.Get(userID); !ok {
			if _, err := d.sessions.EnsureSession(ctx, userID); err != nil {
				d.log.Error().Err(err).Int64("user_id", userID).Msg("failed to ensure session")
				continue
			}
		}
		if err := d.sessions.Reconcile(ctx, userID, userRules); err != nil {
			d.log.Error().Err(err).Int64("user_id", userID).Msg("failed to reconcile session")
		}
	}
}

// maybeTearDown implements the grace period before dropping a user's
// session once it has zero active rules: empty momentarily (e.g. between
// disabling one rule and creating the next) must not thrash the stream
// connection, but it must eventually tear down so an abandoned user doesn't
// hold an idle websocket forever (spec §4.5).
func (d *Daemon) maybeTearDown(userID int64, empty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !empty {
		delete(d.emptySince, userID)
		return
	}

	since, tracked := d.emptySince[userID]
	if !tracked {
		d.emptySince[userID] = time.Now()
		return
	}
	if time.Since(since) < d.cfg.SessionTeardownGrace {
		return
	}

	delete(d.emptySince, userID)
	delete(d.userStreams, userID)
	d.mu.Unlock()
	if err := d.sessions.TearDown(userID); err != nil {
		d.log.Warn().Err(err).Int64("user_id", userID).Msg("failed to tear down idle session")
	} else {
		d.log.Info().Int64("user_id", userID).Msg("session torn down: no active rules")
	}
	d.mu.Lock()
}
