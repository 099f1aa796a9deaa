package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"feeder/internal/bundle"
	"feeder/internal/transport"
)

var errNothingToPush = errors.New("nothing to push: pass files or --xml")

var pushFlags struct {
	worker     string
	space      string
	xmlFiles   []string
	freshID    bool
	outputRoot string
	eatPrefix  string
	priority   int
}

var pushCmd = &cobra.Command{
	Use:   "push [files...]",
	Short: "Send bundles straight to a worker, bypassing any coordinator",
	Long: `push hands bundles to a worker's queue. Files given as arguments form one
bundle; every --xml file holds a saved bundle, for example one taken from a
coordinator's /pending list, and is sent as written unless --fresh-id is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bundles, err := pushBundles(args)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		return sendBundles(ctx, transport.NewClient(0), pushFlags.worker, pushFlags.space, bundles)
	},
}

func init() {
	f := pushCmd.Flags()
	f.StringVar(&pushFlags.worker, "worker", "", "worker base URL")
	f.StringVar(&pushFlags.space, "space", "", "space URL the worker reports completion to")
	f.StringArrayVar(&pushFlags.xmlFiles, "xml", nil, "bundle XML file to send (repeatable)")
	f.BoolVar(&pushFlags.freshID, "fresh-id", false, "give bundles read from --xml a new id")
	f.StringVar(&pushFlags.outputRoot, "output-root", "", "output root for the bundle built from arguments")
	f.StringVar(&pushFlags.eatPrefix, "eat-prefix", "", "prefix stripped from archive entry names")
	f.IntVar(&pushFlags.priority, "priority", bundle.DefaultPriority, "priority of the bundle built from arguments")
	_ = pushCmd.MarkFlagRequired("worker")
}

// pushBundles reads the --xml bundles and builds one more from files.
func pushBundles(files []string) ([]*bundle.Bundle, error) {
	var out []*bundle.Bundle
	for _, name := range pushFlags.xmlFiles {
		data, err := os.ReadFile(name) //nolint:gosec // operator supplied
		if err != nil {
			return nil, fmt.Errorf("read bundle %s: %w", name, err)
		}
		b, err := bundle.FromXML(data)
		if err != nil {
			return nil, fmt.Errorf("parse bundle %s: %w", name, err)
		}
		if pushFlags.freshID {
			b = b.Clone()
		}
		out = append(out, b)
	}
	if len(files) > 0 {
		b := bundle.NewWithRoots(pushFlags.outputRoot, pushFlags.eatPrefix)
		b.Priority = pushFlags.priority
		for _, name := range files {
			abs, err := filepath.Abs(name)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", name, err)
			}
			if _, err := b.AddFileName(abs); err != nil {
				return nil, fmt.Errorf("add %s: %w", abs, err)
			}
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, errNothingToPush
	}
	return out, nil
}

func sendBundles(ctx context.Context, client *transport.Client, workerURL, space string, bundles []*bundle.Bundle) error {
	for _, b := range bundles {
		if err := client.Push(ctx, workerURL, space, b); err != nil {
			return fmt.Errorf("push bundle %s: %w", b.ID, err)
		}
		log.Info().Str("bundle_id", b.ID).Str("worker", workerURL).Int("units", b.Len()).Msg("bundle pushed")
	}
	return nil
}
