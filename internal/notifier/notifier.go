package notifier

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultAttempts = 5
	defaultBackoff  = 100 * time.Millisecond
	defaultPause    = time.Second
)

// Source is the coordinator state the notifier reads.
type Source interface {
	OutboundSize() int
	PendingSize() int
	Workers() []string
	RotateWorkers()
	Stopping() bool
	CollectorsDone() bool
}

// Sender delivers a work-available notice to one worker.
type Sender interface {
	Notify(ctx context.Context, workerID string) error
}

// Options tunes notice delivery.
type Options struct {
	// Attempts per worker per round; attempt i waits (i+1)*Backoff after
	// a failure.
	Attempts int
	Backoff  time.Duration
	// Pause between rounds.
	Pause time.Duration
}

func (o *Options) normalize() {
	if o.Attempts <= 0 {
		o.Attempts = defaultAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultBackoff
	}
	if o.Pause <= 0 {
		o.Pause = defaultPause
	}
}

// Notifier tells workers that bundles are waiting so they come and take
// them. Notices are hints; a lost notice only delays pickup.
type Notifier struct {
	src  Source
	send Sender
	opts Options
}

func New(src Source, send Sender, opts Options) *Notifier {
	opts.normalize()
	return &Notifier{src: src, send: send, opts: opts}
}

// Run sends notice rounds while outbound has work. It returns nil once the
// coordinator is stopping, both queues are empty and collection is over,
// or ctx's error when cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		if n.src.OutboundSize() > 0 {
			start := time.Now()
			notified := n.NotifyAll(ctx)
			log.Debug().Int("notified", notified).Int("workers", len(n.src.Workers())).
				Dur("took", time.Since(start)).Msg("notice round done")
		}
		if err := sleep(ctx, n.opts.Pause); err != nil {
			return err
		}
		n.src.RotateWorkers()

		if n.src.Stopping() && n.src.OutboundSize() == 0 && n.src.PendingSize() == 0 && n.src.CollectorsDone() {
			log.Debug().Msg("notifier finished")
			return nil
		}
	}
}

// NotifyAll notifies workers in list order until outbound drains and
// returns how many notices were accepted.
func (n *Notifier) NotifyAll(ctx context.Context) int {
	ok := 0
	for _, w := range n.src.Workers() {
		if ctx.Err() != nil {
			break
		}
		if n.notifyOne(ctx, w) {
			ok++
		}
		if n.src.OutboundSize() == 0 {
			break
		}
	}
	return ok
}

func (n *Notifier) notifyOne(ctx context.Context, worker string) bool {
	for attempt := 0; attempt < n.opts.Attempts; attempt++ {
		err := n.send.Notify(ctx, worker)
		if err == nil {
			log.Debug().Str("worker", worker).Int("attempts", attempt+1).Msg("worker notified")
			return true
		}
		log.Warn().Err(err).Str("worker", worker).Int("attempt", attempt+1).Msg("failed to notify worker")
		if sleep(ctx, time.Duration(attempt+1)*n.opts.Backoff) != nil {
			return false
		}
	}
	log.Info().Str("worker", worker).Int("attempts", n.opts.Attempts).Msg("giving up on worker notice")
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	case <-t.C:
		return nil
	}
}
