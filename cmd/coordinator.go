package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"feeder/internal/bundle"
	"feeder/internal/collector"
	"feeder/internal/config"
	"feeder/internal/coordinator"
	"feeder/internal/discovery"
	fileutil "feeder/internal/file"
	"feeder/internal/notifier"
	"feeder/internal/transport"
)

var coordinatorFlags struct {
	port      int
	publicURL string
	dirs      []string
	workers   []string
	loop      bool
	exit      bool
}

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Collect directories into bundles and serve them to workers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		f := cmd.Flags()
		co := &cfg.Coordinator
		if f.Changed("port") {
			co.Port = coordinatorFlags.port
		}
		if f.Changed("public-url") {
			co.PublicURL = coordinatorFlags.publicURL
		}
		co.Directories = append(co.Directories, coordinatorFlags.dirs...)
		co.Workers = append(co.Workers, coordinatorFlags.workers...)
		if f.Changed("loop") {
			co.Loop = coordinatorFlags.loop
		}
		if f.Changed("exit-when-done") {
			co.ExitWhenDone = coordinatorFlags.exit
		}
		if err := finishConfig(&cfg); err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		return runCoordinator(ctx, cfg)
	},
}

func init() {
	f := coordinatorCmd.Flags()
	f.IntVar(&coordinatorFlags.port, "port", 0, "http port")
	f.StringVar(&coordinatorFlags.publicURL, "public-url", "", "address workers use to reach this coordinator")
	f.StringSliceVar(&coordinatorFlags.dirs, "dir", nil, "directory to collect, as path[:priority] (repeatable)")
	f.StringSliceVar(&coordinatorFlags.workers, "worker", nil, "worker URL to notify (repeatable)")
	f.BoolVar(&coordinatorFlags.loop, "loop", false, "keep re-walking directories")
	f.BoolVar(&coordinatorFlags.exit, "exit-when-done", false, "stop once collection ends and all work is acknowledged")
}

func coordinatorOptions(cfg config.Config) (coordinator.Options, error) {
	co := cfg.Coordinator
	mode, err := bundle.ParseSortMode(co.Sort)
	if err != nil {
		return coordinator.Options{}, err //nolint:wrapcheck
	}
	opts := coordinator.DefaultOptions()
	opts.DataDir = cfg.DataDir
	opts.SortMode = mode
	opts.MaxRetries = co.MaxRetries
	opts.RetryStrategy = co.RetryStrategy
	opts.Loop = co.Loop
	opts.PendingHangTime = co.PendingHangTime
	opts.MonitorInterval = co.MonitorInterval
	opts.ExitWhenDone = co.ExitWhenDone
	return opts, nil
}

func collectorOptions(co config.CoordinatorConfig) collector.Options {
	return collector.Options{
		SkipDotFiles:         co.SkipDotFiles,
		IncludeDirectories:   co.IncludeDirectories,
		FilesPerBundle:       co.FilesPerBundle,
		MaxBundleBytes:       co.MaxBundleBytes,
		SkipBundles:          co.SkipBundles,
		Loop:                 co.Loop,
		LoopPause:            co.LoopPause,
		UseFileTimestamps:    co.UseFileTimestamps,
		HighWater:            co.HighWater,
		MemThreshold:         co.MemThreshold,
		BackpressureInterval: co.BackpressureInterval,
		OutputRoot:           co.OutputRoot,
		EatPrefix:            co.EatPrefix,
		CaseID:               co.CaseID,
		SimpleMode:           co.SimpleMode,
	}
}

func publicURL(co config.CoordinatorConfig) string {
	if co.PublicURL != "" {
		return co.PublicURL
	}
	return fmt.Sprintf("http://localhost:%d/", co.Port)
}

func runCoordinator(ctx context.Context, cfg config.Config) error {
	co := cfg.Coordinator
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	dirs, err := config.PriorityDirectories(co.Directories)
	if err != nil {
		return err //nolint:wrapcheck
	}
	opts, err := coordinatorOptions(cfg)
	if err != nil {
		return err
	}
	coord := coordinator.New(opts)

	watcher, err := discovery.NewWatcher(co.WorkerPattern, coord)
	if err != nil {
		return err //nolint:wrapcheck
	}
	if n := watcher.Seed(co.Workers); n > 0 {
		log.Info().Int("workers", n).Msg("static workers registered")
	}

	router := transport.NewRouter("coordinator")
	api := transport.NewCoordinatorAPI(coord, watcher)
	api.RegisterRoutes(router)
	api.RegisterUIRoutes(router)
	srv := newHTTPServer(co.Port, router)

	space := publicURL(co)
	notices := notifier.New(coord, transport.Notices{Client: transport.NewClient(0), SpaceURL: space}, notifier.Options{})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return serve(srv) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownHTTP(srv)
		return nil
	})
	g.Go(func() error {
		// a drained coordinator ends the whole process
		defer cancel()
		return ignoreCanceled(coord.Run(gctx))
	})
	g.Go(func() error { return ignoreCanceled(notices.Run(gctx)) })
	g.Go(func() error {
		err := collector.RunAll(gctx, dirs, collectorOptions(co), coord, nil, coord.CollectorStarted)
		if errors.Is(err, collector.ErrNoDirectories) {
			log.Warn().Msg("no directories configured, nothing will be collected")
			return nil
		}
		return ignoreCanceled(err)
	})

	log.Info().Str("space", space).Int("directories", len(dirs)).Bool("loop", co.Loop).Msg("coordinator started")
	err = g.Wait()
	st := coord.Status()
	log.Info().Int64("completed", st.Completed).Int64("failed", st.Failed).Int64("discarded", st.Discarded).
		Int("pending", st.Pending).Int("outbound", st.Outbound).Msg("coordinator exited")
	return err //nolint:wrapcheck
}
