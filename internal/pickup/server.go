package pickup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"feeder/internal/bundle"
	"feeder/internal/processor"
)

const (
	defaultConcurrency     = 1
	defaultPollingInterval = time.Second
)

// ServerOptions configures the dispatch loop.
type ServerOptions struct {
	// Concurrency is the number of bundles processed at once.
	Concurrency     int
	PollingInterval time.Duration
	// TakePause is slept after a productive take; defaults to PollingInterval.
	TakePause time.Duration
}

func (o *ServerOptions) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.PollingInterval <= 0 {
		o.PollingInterval = defaultPollingInterval
	}
	if o.TakePause <= 0 {
		o.TakePause = o.PollingInterval
	}
}

// Server drains the queue into a pool of processing slots and keeps the
// queue fed by taking from open spaces while it has room.
type Server struct {
	space *Space
	queue *Queue
	proc  processor.Processor
	opts  ServerOptions

	semaphore chan struct{}
	workersWG sync.WaitGroup
	paused    atomic.Bool
	shutdown  atomic.Bool
	inFlight  atomic.Int32
	processed atomic.Int64
	failed    atomic.Int64

	mu      sync.RWMutex
	baseCtx context.Context
}

func NewServer(space *Space, queue *Queue, proc processor.Processor, opts ServerOptions) *Server {
	opts.normalize()
	return &Server{
		space:     space,
		queue:     queue,
		proc:      proc,
		opts:      opts,
		semaphore: make(chan struct{}, opts.Concurrency),
		baseCtx:   context.Background(),
	}
}

// SetBaseContext sets the context processing runs under. It is separate
// from Run's context so in-flight bundles can finish after the loop stops.
func (s *Server) SetBaseContext(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

func (s *Server) processingContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

// Run is the dispatch loop. It exits after the current iteration once
// Shutdown is called or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	log.Info().Int("concurrency", s.opts.Concurrency).Int("queue", s.queue.Cap()).Msg("dispatch loop started")
	defer log.Info().Msg("dispatch loop stopped")
	for !s.shutdown.Load() {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck
		}
		s.dispatch()

		switch {
		case s.paused.Load():
			s.queue.Wait(ctx, s.opts.PollingInterval)
		case s.space.SpaceCount() > 0 && s.queue.CanHold(1):
			if s.space.Take(ctx) > 0 {
				s.sleep(ctx, s.opts.TakePause)
			} else if s.space.SpaceCount() > 0 {
				// spaces that fail to answer stay open until their error streak runs out
				s.queue.Wait(ctx, s.opts.PollingInterval)
			}
		default:
			s.queue.Wait(ctx, s.opts.PollingInterval)
		}
	}
	return nil
}

func (s *Server) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// dispatch hands queued bundles to free slots without blocking.
func (s *Server) dispatch() {
	for {
		select {
		case s.semaphore <- struct{}{}:
		default:
			return
		}
		b := s.queue.Dequeue()
		if b == nil {
			<-s.semaphore
			return
		}
		s.workersWG.Add(1)
		s.inFlight.Add(1)
		go s.process(b)
	}
}

func (s *Server) process(b *bundle.Bundle) {
	defer func() {
		s.inFlight.Add(-1)
		<-s.semaphore
		s.workersWG.Done()
		s.queue.Signal()
	}()

	ctx := s.processingContext()
	ok := s.run(ctx, b)
	if ok {
		s.processed.Add(1)
	} else {
		s.failed.Add(1)
	}
	if err := s.space.BundleCompleted(context.WithoutCancel(ctx), b.ID, ok); err != nil {
		log.Error().Err(err).Str("bundle_id", b.ID).Bool("ok", ok).Msg("could not report bundle outcome")
	}
}

// run processes b, turning errors and panics into a failed outcome.
func (s *Server) run(ctx context.Context, b *bundle.Bundle) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("bundle_id", b.ID).Str("files", strings.Join(b.FileNames(), ",")).
				Str("panic", fmt.Sprint(r)).Msg("processing panicked")
			ok = false
		}
	}()
	log.Debug().Str("bundle_id", b.ID).Int("units", b.Len()).Msg("processing bundle")
	ok, err := s.proc.Process(ctx, b)
	if err != nil {
		log.Warn().Err(err).Str("bundle_id", b.ID).Str("files", strings.Join(b.FileNames(), ",")).Msg("processing failed")
		return false
	}
	return ok
}

// Enqueue accepts a pushed bundle. from names the space to report its
// outcome to and may be empty. It returns false when the queue is full.
func (s *Server) Enqueue(from string, b *bundle.Bundle) bool {
	if b == nil || b.IsEmpty() {
		return true
	}
	if from != "" {
		s.space.Adopt(b.ID, from)
	}
	if !s.queue.Enqueue(b) {
		s.space.Forget(b.ID)
		return false
	}
	return true
}

// OpenSpace starts pulling from name and wakes the loop.
func (s *Server) OpenSpace(name string) bool {
	opened := s.space.OpenSpace(name)
	s.queue.Signal()
	return opened
}

func (s *Server) Pause() {
	if s.paused.CompareAndSwap(false, true) {
		log.Info().Msg("taking work paused")
	}
}

func (s *Server) Unpause() {
	if s.paused.CompareAndSwap(true, false) {
		log.Info().Msg("taking work resumed")
		s.queue.Signal()
	}
}

func (s *Server) IsPaused() bool { return s.paused.Load() }

// Shutdown asks Run to return after its current iteration.
func (s *Server) Shutdown() {
	s.shutdown.Store(true)
	s.queue.Signal()
}

// WaitAll blocks until all in-flight processing finishes or the context is done.
// Returns true if all workers finished, false if timed out.
func (s *Server) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// IsBusy reports whether every processing slot is taken.
func (s *Server) IsBusy() bool {
	return len(s.semaphore) >= cap(s.semaphore)
}

// Stats is the worker-side view served over HTTP.
type Stats struct {
	Paused    bool     `json:"paused"`
	Queued    int      `json:"queued"`
	QueueCap  int      `json:"queue_cap"`
	InFlight  int      `json:"in_flight"`
	Processed int64    `json:"processed"`
	Failed    int64    `json:"failed"`
	Spaces    []string `json:"spaces"`
	Busy      bool     `json:"busy"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Paused:    s.IsPaused(),
		Queued:    s.queue.Len(),
		QueueCap:  s.queue.Cap(),
		InFlight:  int(s.inFlight.Load()),
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
		Spaces:    s.space.SpaceNames(),
		Busy:      s.IsBusy(),
	}
}
