package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Run monitors progress until the coordinator is stopped and both queues
// are empty, or ctx is cancelled. Each tick applies the pending hang
// timeout and refreshes the status snapshot.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.MonitorInterval)
	defer ticker.Stop()
	defer c.saveSnapshot(context.WithoutCancel(ctx))

	for {
		if c.Finished() {
			log.Info().Msg("all work drained, coordinator finished")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck
		case <-ticker.C:
		}
		c.checkHang(c.now())
		c.recent.DeleteExpired()
		c.saveSnapshot(ctx)
	}
}

// checkHang gives up on pending work when outbound has stayed empty for
// longer than PendingHangTime. Looping collectors keep refilling outbound,
// so the timeout does not apply to them.
func (c *Coordinator) checkHang(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outbound.Len() > 0 {
		c.outboundEmptySince = time.Time{}
		return 0
	}
	if c.outboundEmptySince.IsZero() {
		c.outboundEmptySince = now
		return 0
	}
	if c.opts.Loop || len(c.pending) == 0 || !now.After(c.outboundEmptySince.Add(c.opts.PendingHangTime)) {
		return 0
	}
	log.Warn().Int("pending", len(c.pending)).Dur("hang_time", c.opts.PendingHangTime).Msg("giving up on pending bundles due to timeout")
	c.stats.hangTimeouts++
	return c.forceFailPendingLocked("pending hang timeout")
}

func (c *Coordinator) saveSnapshot(ctx context.Context) {
	if c.store == nil {
		return
	}
	st := c.Status()
	if err := c.store.SaveStatus(ctx, st); err != nil {
		log.Warn().Err(err).Msg("persist status snapshot failed")
		return
	}
	log.Debug().Int("outbound", st.Outbound).Int("pending", st.Pending).Int64("completed", st.Completed).Msg("coordinator progress")
}
