package coordinator

import (
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"feeder/internal/bundle"
)

// Coordinator owns the outbound queue and the pending map and hands bundles
// to workers on request. Delivery is at-least-once: a bundle leaves pending
// only through a completion notice, worker removal or the hang timeout.
type Coordinator struct {
	opts Options

	mu        sync.Mutex
	outbound  *outbound
	pending   map[string]*bundle.Bundle
	filesSeen map[string]int64
	// filesDone maps settled files to their modification time at settlement.
	filesDone map[string]int64
	stats     counters
	// outboundEmptySince is zero while outbound holds work.
	outboundEmptySince time.Time

	workers *registry
	recent  *ttlcache.Cache[string, struct{}]
	store   StatusStore

	stopping   atomic.Bool
	collectors atomic.Int32

	now     func() time.Time
	modTime func(name string) int64
}

type counters struct {
	filesCollected   int64
	bundlesCollected int64
	bytesCollected   int64
	completed        int64
	failed           int64
	retried          int64
	discarded        int64
	duplicates       int64
	hangTimeouts     int64
	takenBy          map[string]int
	noMoreWork       mapset.Set[string]
}

// New creates a coordinator. Workers are added separately.
func New(opts Options) *Coordinator {
	opts.normalize()
	c := &Coordinator{
		opts:      opts,
		outbound:  newOutbound(bundle.Ordering(opts.SortMode)),
		pending:   make(map[string]*bundle.Bundle),
		filesSeen: make(map[string]int64),
		filesDone: make(map[string]int64),
		stats: counters{
			takenBy:    make(map[string]int),
			noMoreWork: mapset.NewThreadUnsafeSet[string](),
		},
		workers: newRegistry(),
		recent: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](opts.CompletionMemory),
			ttlcache.WithCapacity[string, struct{}](defaultCompletionCap),
		),
		now:     time.Now,
		modTime: fileModTime,
	}
	if opts.DataDir != "" {
		c.store = NewFileStore(opts.DataDir)
	}
	return c
}

func fileModTime(name string) int64 {
	fi, err := os.Stat(name)
	if err != nil {
		return 0
	}
	return fi.ModTime().UnixMilli()
}

// Take hands the best outbound bundle to workerID and moves it to pending.
// With nothing outbound it returns a new empty bundle, meaning "no work now".
// The returned bundle is a copy; pending keeps the tracked instance.
func (c *Coordinator) Take(workerID string) *bundle.Bundle {
	host := HostOf(workerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.outbound.pop()
	if b == nil {
		c.stats.noMoreWork.Add(host)
		log.Debug().Str("worker", host).Msg("no work to give")
		return bundle.New()
	}
	b.SentTo = &host
	c.pending[b.ID] = b
	c.stats.takenBy[host]++
	log.Info().Str("bundle_id", b.ID).Str("worker", host).Int("units", b.Len()).Int("priority", b.Priority).Msg("bundle taken")
	return b.Copy()
}

// BundleCompleted records the outcome reported by workerID. It returns false
// for ids not pending, including repeated notices, which change nothing.
// A notice from a host other than the one holding the bundle is stale and
// ignored.
func (c *Coordinator) BundleCompleted(workerID, bundleID string, success bool) bool {
	host := HostOf(workerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.pending[bundleID]
	if !ok {
		if c.recent.Has(bundleID) {
			c.stats.duplicates++
			log.Debug().Str("bundle_id", bundleID).Str("worker", host).Msg("duplicate completion ignored")
		} else {
			log.Info().Str("bundle_id", bundleID).Str("worker", host).Msg("unknown bundle completed")
		}
		return false
	}
	if workerID != "" && bundle.Deref(b.SentTo) != host {
		log.Warn().Str("bundle_id", bundleID).Str("worker", host).Str("sent_to", bundle.Deref(b.SentTo)).Msg("completion from wrong worker ignored")
		return false
	}

	delete(c.pending, bundleID)
	c.recent.Set(bundleID, struct{}{}, ttlcache.DefaultTTL)
	c.settleFilesLocked(b)
	if success {
		c.stats.completed++
		log.Debug().Str("bundle_id", bundleID).Str("worker", host).Msg("bundle completed")
		return true
	}
	c.stats.failed++
	c.retryLocked(b, "failure reported by "+host)
	return true
}

// settleFilesLocked moves the bundle's files from seen to done.
func (c *Coordinator) settleFilesLocked(b *bundle.Bundle) {
	for _, name := range b.FileNames() {
		modTime, ok := c.filesSeen[name]
		if !ok {
			modTime = c.modTime(name)
		}
		c.filesDone[name] = modTime
		delete(c.filesSeen, name)
	}
}

// retryLocked re-queues b or discards it once it exceeds the retry ceiling.
func (c *Coordinator) retryLocked(b *bundle.Bundle, reason string) {
	b.SentTo = nil
	if b.IncrementErrorCount() > c.opts.MaxRetries {
		c.stats.discarded++
		log.Error().Str("bundle_id", b.ID).Int("error_count", b.ErrorCount).Str("reason", reason).
			Str("bundle", b.String()).Msg("bundle has too many errors, permanently discarded")
		return
	}
	c.stats.retried++
	c.pushLocked(b)
	log.Info().Str("bundle_id", b.ID).Int("error_count", b.ErrorCount).Str("reason", reason).Msg("bundle re-queued")
}

func (c *Coordinator) pushLocked(b *bundle.Bundle) {
	c.outbound.push(b)
	c.outboundEmptySince = time.Time{}
	for _, name := range b.FileNames() {
		c.filesSeen[name] = c.modTime(name)
	}
}

// EnqueueCollected adds a freshly collected bundle to outbound.
func (c *Coordinator) EnqueueCollected(b *bundle.Bundle) {
	if b == nil || b.IsEmpty() {
		return
	}
	c.mu.Lock()
	c.pushLocked(b)
	c.stats.bundlesCollected++
	c.stats.filesCollected += int64(b.Len())
	c.stats.bytesCollected += b.TotalFileSize
	size, seen := c.outbound.Len(), len(c.filesSeen)
	c.mu.Unlock()
	log.Debug().Str("bundle_id", b.ID).Int("units", b.Len()).Int("outbound", size).Int("files_seen", seen).Msg("bundle collected")
}

// Admit reports whether a file found by a collector should be bundled.
// Files that are queued, in flight or settled are skipped while their
// modification time is unchanged; a modified file is collected again.
func (c *Coordinator) Admit(name string, modTime int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if done, ok := c.filesDone[name]; ok {
		if done == modTime {
			return false
		}
		delete(c.filesDone, name)
	}
	if seen, ok := c.filesSeen[name]; ok && seen == modTime {
		return false
	}
	return true
}

// FinishPass forgets settled files that were moved away or modified since
// they settled, so the done set only tracks files still in place.
func (c *Coordinator) FinishPass() {
	c.mu.Lock()
	settled := make(map[string]int64, len(c.filesDone))
	for name, modTime := range c.filesDone {
		settled[name] = modTime
	}
	c.mu.Unlock()

	stale := make([]string, 0)
	for name, modTime := range settled {
		if c.modTime(name) != modTime {
			stale = append(stale, name)
		}
	}
	if len(stale) == 0 {
		return
	}

	c.mu.Lock()
	for _, name := range stale {
		if c.filesDone[name] == settled[name] {
			delete(c.filesDone, name)
		}
	}
	c.mu.Unlock()
	log.Debug().Int("forgotten", len(stale)).Msg("settled files no longer in place")
}

func (c *Coordinator) OutboundSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbound.Len()
}

func (c *Coordinator) PendingSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingBundles returns copies of the in-flight bundles ordered by id.
func (c *Coordinator) PendingBundles() []*bundle.Bundle {
	c.mu.Lock()
	out := make([]*bundle.Bundle, 0, len(c.pending))
	for _, b := range c.pending {
		out = append(out, b.Copy())
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddWorker registers workerID. Re-registering a known worker with the
// retry strategy on first recovers its pending work, as it has restarted.
func (c *Coordinator) AddWorker(workerID string) bool {
	if c.workers.contains(workerID) {
		if !c.opts.RetryStrategy {
			return false
		}
		log.Info().Str("worker", workerID).Msg("known worker registered again, recovering its work")
		c.RemoveWorker(workerID)
	}
	added := c.workers.add(workerID)
	if added {
		log.Info().Str("worker", workerID).Msg("worker added")
	}
	return added
}

// RemoveWorker forgets workerID and, with the retry strategy on, treats each
// bundle it held as failed. It returns how many bundles were recovered.
func (c *Coordinator) RemoveWorker(workerID string) int {
	if c.workers.remove(workerID) {
		log.Info().Str("worker", workerID).Msg("worker removed")
	}
	if !c.opts.RetryStrategy {
		return 0
	}
	host := HostOf(workerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	lost := make([]*bundle.Bundle, 0)
	for id, b := range c.pending {
		if bundle.Deref(b.SentTo) == host {
			lost = append(lost, b)
			delete(c.pending, id)
		}
	}
	sort.Slice(lost, func(i, j int) bool { return lost[i].ID < lost[j].ID })
	for _, b := range lost {
		c.retryLocked(b, "worker "+host+" removed")
	}
	if len(lost) > 0 {
		log.Info().Str("worker", host).Int("bundles", len(lost)).Msg("moved pending bundles back to outbound")
	}
	return len(lost)
}

// Workers returns the current worker list. Callers must not modify it.
func (c *Coordinator) Workers() []string { return c.workers.snapshot() }

// RotateWorkers moves the first worker to the end of the list.
func (c *Coordinator) RotateWorkers() { c.workers.rotate() }

// Stop asks the coordinator to finish once outstanding work drains.
func (c *Coordinator) Stop() {
	if c.stopping.CompareAndSwap(false, true) {
		log.Info().Msg("coordinator stopping")
	}
}

func (c *Coordinator) Stopping() bool { return c.stopping.Load() }

// CollectorStarted registers a running collector; call the returned func
// when it exits.
func (c *Coordinator) CollectorStarted() func() {
	c.collectors.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			if c.collectors.Add(-1) == 0 && c.opts.ExitWhenDone && !c.opts.Loop {
				log.Info().Msg("all collectors finished")
				c.Stop()
			}
		})
	}
}

// CollectorsDone reports whether no collector is running.
func (c *Coordinator) CollectorsDone() bool { return c.collectors.Load() == 0 }

// Finished reports whether a stop was requested and all work has drained.
func (c *Coordinator) Finished() bool {
	if !c.Stopping() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbound.Len() == 0 && len(c.pending) == 0
}

// ForceFailPending drops every pending bundle without re-queueing it and
// returns how many were dropped.
func (c *Coordinator) ForceFailPending(reason string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forceFailPendingLocked(reason)
}

func (c *Coordinator) forceFailPendingLocked(reason string) int {
	n := len(c.pending)
	for id, b := range c.pending {
		log.Warn().Str("bundle_id", id).Str("reason", reason).Str("bundle", b.String()).Msg("giving up on pending bundle")
		for _, name := range b.FileNames() {
			delete(c.filesSeen, name)
		}
		delete(c.pending, id)
	}
	c.stats.discarded += int64(n)
	return n
}

// Status returns a snapshot of queue sizes and counters.
func (c *Coordinator) Status() Status {
	workers := append([]string(nil), c.Workers()...)
	c.mu.Lock()
	defer c.mu.Unlock()
	taken := make(map[string]int, len(c.stats.takenBy))
	for k, v := range c.stats.takenBy {
		taken[k] = v
	}
	noMore := c.stats.noMoreWork.ToSlice()
	sort.Strings(noMore)
	return Status{
		Time:             c.now(),
		Outbound:         c.outbound.Len(),
		Pending:          len(c.pending),
		FilesSeen:        len(c.filesSeen),
		FilesDone:        len(c.filesDone),
		Workers:          workers,
		Stopping:         c.Stopping(),
		CollectorsDone:   c.CollectorsDone(),
		FilesCollected:   c.stats.filesCollected,
		BundlesCollected: c.stats.bundlesCollected,
		BytesCollected:   c.stats.bytesCollected,
		Completed:        c.stats.completed,
		Failed:           c.stats.failed,
		Retried:          c.stats.retried,
		Discarded:        c.stats.discarded,
		Duplicates:       c.stats.duplicates,
		HangTimeouts:     c.stats.hangTimeouts,
		TakenBy:          taken,
		NoMoreWork:       noMore,
	}
}

// Store exposes the snapshot store, nil when no data dir is configured.
func (c *Coordinator) Store() StatusStore { return c.store }
