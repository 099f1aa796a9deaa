package pickup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"feeder/internal/bundle"
)

const (
	defaultTakeErrorMax     = 10
	defaultCompleteAttempts = 5
	defaultCompleteBackoff  = 100 * time.Millisecond
)

// Client talks to coordinator spaces.
type Client interface {
	Take(ctx context.Context, spaceURL, workerID string) (*bundle.Bundle, error)
	Complete(ctx context.Context, spaceURL, workerID, bundleID string, ok bool) error
}

// SpaceOptions configures a Space.
type SpaceOptions struct {
	// WorkerID identifies this worker to coordinators.
	WorkerID string
	// TakeErrorMax closes a space after more consecutive failed takes.
	TakeErrorMax     int
	CompleteAttempts int
	CompleteBackoff  time.Duration
}

func (o *SpaceOptions) normalize() {
	if o.TakeErrorMax <= 0 {
		o.TakeErrorMax = defaultTakeErrorMax
	}
	if o.CompleteAttempts <= 0 {
		o.CompleteAttempts = defaultCompleteAttempts
	}
	if o.CompleteBackoff <= 0 {
		o.CompleteBackoff = defaultCompleteBackoff
	}
}

// Space tracks the coordinators this worker pulls from and which of them
// each in-flight bundle belongs to.
type Space struct {
	client Client
	queue  *Queue
	opts   SpaceOptions

	mu         sync.Mutex
	open       []string
	takeErrors map[string]int
	lastSize   map[string]int
	owners     map[string]string
}

func NewSpace(client Client, queue *Queue, opts SpaceOptions) *Space {
	opts.normalize()
	return &Space{
		client:     client,
		queue:      queue,
		opts:       opts,
		takeErrors: make(map[string]int),
		lastSize:   make(map[string]int),
		owners:     make(map[string]string),
	}
}

// OpenSpace starts pulling from name. Opening an open space is a no-op.
func (s *Space) OpenSpace(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.takeErrors[name]; ok {
		log.Debug().Str("space", name).Msg("space already open")
		return false
	}
	s.open = append(s.open, name)
	s.takeErrors[name] = 0
	s.lastSize[name] = 0
	log.Info().Str("space", name).Int("open", len(s.open)).Msg("space opened")
	return true
}

// CloseSpace stops pulling from name.
func (s *Space) CloseSpace(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(name)
}

func (s *Space) closeLocked(name string) bool {
	if _, ok := s.takeErrors[name]; !ok {
		return false
	}
	delete(s.takeErrors, name)
	delete(s.lastSize, name)
	kept := s.open[:0]
	for _, n := range s.open {
		if n != name {
			kept = append(kept, n)
		}
	}
	s.open = kept
	log.Info().Str("space", name).Int("open", len(s.open)).Msg("space closed")
	return true
}

func (s *Space) SpaceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *Space) SpaceNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.open...)
}

// ConsecutiveTakeErrors returns the failed-take streak for name.
func (s *Space) ConsecutiveTakeErrors(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeErrors[name]
}

// LastBundleSize returns the unit count of the last bundle taken from name.
func (s *Space) LastBundleSize(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSize[name]
}

// Take asks every open space for one bundle and queues what it gets. An
// empty reply closes that space, as does a run of failed takes. A bundle
// the queue cannot hold is reported back as failed at once so the
// coordinator re-queues it. Take returns how many bundles were queued.
func (s *Space) Take(ctx context.Context) int {
	taken := 0
	for _, name := range s.SpaceNames() {
		if ctx.Err() != nil {
			break
		}
		b, err := s.client.Take(ctx, name, s.opts.WorkerID)
		if err != nil {
			s.takeFailed(name, err)
			continue
		}
		if b.IsEmpty() {
			log.Debug().Str("space", name).Msg("space has no more work")
			s.CloseSpace(name)
			continue
		}

		s.mu.Lock()
		if _, ok := s.takeErrors[name]; ok {
			s.takeErrors[name] = 0
			s.lastSize[name] = b.Len()
		}
		s.owners[b.ID] = name
		s.mu.Unlock()

		if !s.queue.Enqueue(b) {
			log.Warn().Str("space", name).Str("bundle_id", b.ID).Msg("queue full, handing bundle back")
			if err := s.BundleCompleted(ctx, b.ID, false); err != nil {
				log.Error().Err(err).Str("bundle_id", b.ID).Msg("failed to hand bundle back")
			}
			continue
		}
		log.Debug().Str("space", name).Str("bundle_id", b.ID).Int("units", b.Len()).Msg("bundle received")
		taken++
	}
	return taken
}

func (s *Space) takeFailed(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.takeErrors[name]; !ok {
		return
	}
	s.takeErrors[name]++
	n := s.takeErrors[name]
	log.Error().Err(err).Str("space", name).Int("consecutive", n).Msg("failed to take work")
	if n > s.opts.TakeErrorMax {
		log.Error().Str("space", name).Msg("closing space due to repeated errors")
		s.closeLocked(name)
	}
}

// Adopt records that bundleID was pushed by space name, so its outcome is
// reported there.
func (s *Space) Adopt(bundleID, name string) {
	s.mu.Lock()
	s.owners[bundleID] = name
	s.mu.Unlock()
}

// Forget drops ownership of bundleID without reporting.
func (s *Space) Forget(bundleID string) {
	s.mu.Lock()
	delete(s.owners, bundleID)
	s.mu.Unlock()
}

// Pending returns how many bundles await an outcome report.
func (s *Space) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.owners)
}

// BundleCompleted reports the outcome of bundleID to the space it came
// from, retrying with a growing backoff. The space need not still be open.
func (s *Space) BundleCompleted(ctx context.Context, bundleID string, ok bool) error {
	s.mu.Lock()
	name, found := s.owners[bundleID]
	delete(s.owners, bundleID)
	s.mu.Unlock()
	if !found {
		log.Warn().Str("bundle_id", bundleID).Msg("no space to report completion to")
		return fmt.Errorf("%w: %s", ErrUnknownBundle, bundleID)
	}

	var err error
	for attempt := 0; attempt < s.opts.CompleteAttempts; attempt++ {
		if err = s.client.Complete(ctx, name, s.opts.WorkerID, bundleID, ok); err == nil {
			log.Debug().Str("space", name).Str("bundle_id", bundleID).Bool("ok", ok).Msg("completion reported")
			return nil
		}
		log.Warn().Err(err).Str("space", name).Str("bundle_id", bundleID).Int("attempt", attempt+1).Msg("completion report failed")
		if ctx.Err() != nil {
			break
		}
		t := time.NewTimer(time.Duration(attempt+1) * s.opts.CompleteBackoff)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	return fmt.Errorf("report completion of %s to %s: %w", bundleID, name, err)
}
