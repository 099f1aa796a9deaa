package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"feeder/internal/config"
	"feeder/internal/pickup"
	"feeder/internal/processor"
	"feeder/internal/transport"
)

var workerFlags struct {
	port        int
	id          string
	spaces      []string
	concurrency int
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Pull bundles from coordinators and archive them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		f := cmd.Flags()
		w := &cfg.Worker
		if f.Changed("port") {
			w.Port = workerFlags.port
		}
		if f.Changed("id") {
			w.ID = workerFlags.id
		}
		if f.Changed("concurrency") {
			w.Concurrency = workerFlags.concurrency
		}
		w.Spaces = append(w.Spaces, workerFlags.spaces...)
		if err := finishConfig(&cfg); err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		return runWorker(ctx, cfg)
	},
}

func init() {
	f := workerCmd.Flags()
	f.IntVar(&workerFlags.port, "port", 0, "http port")
	f.StringVar(&workerFlags.id, "id", "", "address coordinators use to reach this worker")
	f.StringSliceVar(&workerFlags.spaces, "space", nil, "coordinator URL to pull from (repeatable)")
	f.IntVar(&workerFlags.concurrency, "concurrency", 0, "bundles processed at once")
}

func workerID(w config.WorkerConfig) string {
	if w.ID != "" {
		return w.ID
	}
	return fmt.Sprintf("http://localhost:%d/", w.Port)
}

func runWorker(ctx context.Context, cfg config.Config) error {
	w := cfg.Worker
	id := workerID(w)
	client := transport.NewClient(0)

	queue := pickup.NewQueue(w.QueueSize)
	space := pickup.NewSpace(client, queue, pickup.SpaceOptions{
		WorkerID:         id,
		TakeErrorMax:     w.TakeErrorMax,
		CompleteAttempts: w.CompleteAttempts,
	})
	archiver := processor.NewArchiver(processor.ArchiverOptions{
		OutputRoot:       filepath.Join(cfg.DataDir, "output"),
		MinContentLength: w.MinContentLength,
		MaxContentLength: w.MaxContentLength,
		HoldingArea:      w.HoldingArea,
		DoneArea:         w.DoneArea,
		ErrorArea:        w.ErrorArea,
	})
	server := pickup.NewServer(space, queue, archiver, pickup.ServerOptions{
		Concurrency:     w.Concurrency,
		PollingInterval: w.PollingInterval,
		TakePause:       w.TakePause,
	})
	// processing outlives the dispatch loop so in-flight bundles can finish
	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	server.SetBaseContext(baseCtx)

	router := transport.NewRouter("worker")
	transport.NewWorkerAPI(server).RegisterRoutes(router)
	srv := newHTTPServer(w.Port, router)

	for _, s := range w.Spaces {
		server.OpenSpace(s)
		if !w.Register {
			continue
		}
		if err := client.Register(ctx, s, id); err != nil {
			log.Warn().Err(err).Str("space", s).Msg("failed to register with coordinator")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(srv) })
	g.Go(func() error { return ignoreCanceled(server.Run(gctx)) })
	g.Go(func() error {
		<-gctx.Done()
		server.Shutdown()
		shutdownHTTP(srv)
		return nil
	})

	log.Info().Str("worker", id).Int("spaces", len(w.Spaces)).Int("concurrency", w.Concurrency).Msg("worker started")
	err := g.Wait()
	gracefulShutdown(server, client, cfg.Worker, id)
	return err //nolint:wrapcheck
}

// gracefulShutdown deregisters from coordinators and waits for in-flight
// bundles so their outcomes are still reported.
func gracefulShutdown(server *pickup.Server, client *transport.Client, w config.WorkerConfig, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if !server.WaitAll(ctx) {
		log.Warn().Msg("in-flight bundles did not finish before timeout")
	}
	if w.Register {
		for _, s := range w.Spaces {
			if err := client.Deregister(ctx, s, id); err != nil {
				log.Warn().Err(err).Str("space", s).Msg("failed to deregister from coordinator")
			}
		}
	}
	log.Info().Interface("stats", server.Stats()).Msg("worker exited cleanly")
}
