package collector

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"feeder/internal/bundle"
	"feeder/internal/config"
)

const (
	defaultFilesPerBundle = 5
	defaultHighWater      = 500
	defaultMemThreshold   = 0.80
	defaultBackpressure   = 30 * time.Second
	defaultLoopPause      = 60 * time.Second
)

// Sink receives collected bundles. The coordinator implements it.
type Sink interface {
	// Admit reports whether a file should be bundled.
	Admit(name string, modTime int64) bool
	EnqueueCollected(b *bundle.Bundle)
	// FinishPass is called after each complete pass over the directory.
	FinishPass()
	OutboundSize() int
	// Stopping reports that no further collection is wanted.
	Stopping() bool
}

// HeapGauge reports heap usage as a fraction of the available heap.
type HeapGauge interface {
	HeapUsage() float64
}

// Options configures a Collector.
type Options struct {
	SkipDotFiles       bool
	IncludeDirectories bool
	// FilesPerBundle and MaxBundleBytes bound a bundle; -1 means unbounded.
	FilesPerBundle int
	MaxBundleBytes int64
	// SkipBundles drops that many bundles on the first pass when resuming
	// an interrupted run.
	SkipBundles       int
	Loop              bool
	LoopPause         time.Duration
	UseFileTimestamps bool

	HighWater            int
	MemThreshold         float64
	BackpressureInterval time.Duration

	OutputRoot string
	EatPrefix  string
	CaseID     string
	SimpleMode bool
}

// DefaultOptions returns the collection defaults.
func DefaultOptions() Options {
	return Options{
		SkipDotFiles:         true,
		FilesPerBundle:       defaultFilesPerBundle,
		MaxBundleBytes:       -1,
		LoopPause:            defaultLoopPause,
		HighWater:            defaultHighWater,
		MemThreshold:         defaultMemThreshold,
		BackpressureInterval: defaultBackpressure,
	}
}

func (o *Options) normalize() {
	if o.FilesPerBundle == 0 || o.FilesPerBundle > bundle.MaxUnits {
		o.FilesPerBundle = bundle.MaxUnits
	}
	if o.FilesPerBundle < 0 {
		o.FilesPerBundle = -1
	}
	if o.LoopPause <= 0 {
		o.LoopPause = defaultLoopPause
	}
	if o.HighWater <= 0 {
		o.HighWater = defaultHighWater
	}
	if o.MemThreshold <= 0 {
		o.MemThreshold = defaultMemThreshold
	}
	if o.BackpressureInterval <= 0 {
		o.BackpressureInterval = defaultBackpressure
	}
}

// Collector walks one priority directory and feeds bundles to a Sink.
type Collector struct {
	dir   config.PriorityDirectory
	opts  Options
	sink  Sink
	gauge HeapGauge

	readable func(path string) bool
	now      func() time.Time

	skipRemaining int
	// minModTime filters files older than the last productive pass, in ms.
	minModTime int64
}

// New creates a collector for dir.
func New(dir config.PriorityDirectory, opts Options, sink Sink, gauge HeapGauge) *Collector {
	opts.normalize()
	if gauge == nil {
		gauge = RuntimeGauge{}
	}
	return &Collector{
		dir:           dir,
		opts:          opts,
		sink:          sink,
		gauge:         gauge,
		readable:      isReadable,
		now:           time.Now,
		skipRemaining: max(opts.SkipBundles, 0),
	}
}

// Run collects until a non-looping pass ends, the sink is stopping or ctx is
// cancelled.
func (c *Collector) Run(ctx context.Context) error {
	logger := log.With().Str("dir", c.dir.Path).Int("priority", c.dir.Priority).Logger()
	for pass := 1; ; pass++ {
		if c.sink.Stopping() {
			logger.Info().Int("pass", pass).Msg("sink is stopping, collector done")
			return nil
		}
		start := c.now()
		collected, err := c.Pass(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr //nolint:wrapcheck
		}
		if err != nil {
			logger.Error().Err(err).Int("pass", pass).Msg("collection pass ended early")
		}
		logger.Info().Int("pass", pass).Int("bundles", collected).Dur("took", c.now().Sub(start)).
			Int("outbound", c.sink.OutboundSize()).Msg("collection pass done")

		// resuming only applies to the first pass
		c.skipRemaining = 0
		if !c.opts.Loop {
			return nil
		}
		if collected == 0 {
			if err := sleep(ctx, c.opts.LoopPause); err != nil {
				return err
			}
			continue
		}
		if c.opts.UseFileTimestamps {
			c.minModTime = start.UnixMilli()
		}
	}
}

// Pass walks the directory once and returns how many bundles it handed to
// the sink. A walk error ends the pass without flushing the partial bundle.
func (c *Collector) Pass(ctx context.Context) (int, error) {
	current := c.newBundle()
	collected := 0
	emit := func() {
		if c.skipRemaining > 0 {
			c.skipRemaining--
			log.Debug().Str("dir", c.dir.Path).Int("units", current.Len()).Msg("skipping bundle while resuming")
		} else {
			c.sink.EnqueueCollected(current)
			collected++
		}
		current = c.newBundle()
	}

	err := filepath.WalkDir(c.dir.Path, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == c.dir.Path {
			return nil
		}
		if err := c.backpressure(ctx); err != nil {
			return err
		}
		if c.opts.SkipDotFiles && strings.HasPrefix(d.Name(), ".") {
			log.Debug().Str("path", path).Msg("skipping dot file")
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !c.readable(path) {
			log.Debug().Str("path", path).Msg("cannot access file")
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		var (
			modTime int64
			size    int64
		)
		if d.IsDir() {
			if !c.opts.IncludeDirectories || c.skipRemaining > 0 {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			modTime = info.ModTime().UnixMilli()
		} else {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			modTime, size = info.ModTime().UnixMilli(), info.Size()
		}

		if modTime < c.minModTime {
			return nil
		}
		if !c.sink.Admit(path, modTime) {
			return nil
		}
		if c.hasRoom(current) {
			if _, err := current.AddFile(path, modTime, size); err != nil {
				return err
			}
		}
		if !c.hasRoom(current) {
			emit()
		}
		return nil
	})
	if err != nil {
		return collected, err
	}
	if !current.IsEmpty() {
		emit()
	}
	c.sink.FinishPass()
	return collected, nil
}

// hasRoom reports whether b can take another file: an empty bundle always
// can, otherwise both the byte and the file limit must allow it.
func (c *Collector) hasRoom(b *bundle.Bundle) bool {
	if b.IsEmpty() {
		return true
	}
	bytesOK := c.opts.MaxBundleBytes <= -1 || b.TotalFileSize < c.opts.MaxBundleBytes
	filesOK := c.opts.FilesPerBundle <= -1 || b.Len() < c.opts.FilesPerBundle
	return bytesOK && filesOK && b.Len() < bundle.MaxUnits
}

func (c *Collector) newBundle() *bundle.Bundle {
	b := bundle.NewWithRoots(c.opts.OutputRoot, c.opts.EatPrefix)
	if c.opts.CaseID != "" {
		caseID := c.opts.CaseID
		b.CaseID = &caseID
	}
	b.Priority = c.dir.Priority
	b.SimpleMode = c.opts.SimpleMode
	return b
}

// backpressure holds collection while outbound is above the high-water mark
// and the heap is above the memory threshold.
func (c *Collector) backpressure(ctx context.Context) error {
	waits := 0
	for c.sink.OutboundSize() > c.opts.HighWater && c.gauge.HeapUsage() > c.opts.MemThreshold {
		if waits == 0 {
			log.Info().Str("dir", c.dir.Path).Int("outbound", c.sink.OutboundSize()).Msg("memory threshold exceeded, pausing collection")
		}
		waits++
		if err := sleep(ctx, c.opts.BackpressureInterval); err != nil {
			return err
		}
	}
	if waits > 0 {
		log.Info().Str("dir", c.dir.Path).Int("waits", waits).Msg("collection resumed")
	}
	return nil
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
