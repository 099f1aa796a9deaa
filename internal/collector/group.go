package collector

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"feeder/internal/config"
)

// ErrNoDirectories is returned by RunAll when there is nothing to collect.
var ErrNoDirectories = errors.New("no directories to collect")

// RunAll runs one collector per directory and waits for all of them. Each
// collector is announced through started before its goroutine begins; the
// returned func is called when it exits. started may be nil.
func RunAll(ctx context.Context, dirs []config.PriorityDirectory, opts Options, sink Sink, gauge HeapGauge, started func() func()) error {
	if len(dirs) == 0 {
		return ErrNoDirectories
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, dir := range dirs {
		col := New(dir, opts, sink, gauge)
		done := func() {}
		if started != nil {
			done = started()
		}
		g.Go(func() error {
			defer done()
			return col.Run(gctx)
		})
	}
	return g.Wait() //nolint:wrapcheck
}
