package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"sharesheet/internal/logging"
	"sharesheet/internal/pkgwatch"
)

// WatchCommand keeps a chooser open and reprints it after every catalog
// change until interrupted.
type WatchCommand struct {
	wiring commandWiring
}

func NewWatchCommand(wiring commandWiring) *WatchCommand {
	return &WatchCommand{wiring: wiring}
}

func (c *WatchCommand) Run(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	intent := addIntentFlags(fs)
	width := fs.Int("width", 0, "cell width")
	wait := fs.Duration("wait", defaultWaitTimeout, "how long to wait for each rebuild")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := c.wiring.signals(context.Background())
	defer stop()

	run, err := openChooser(ctx, c.wiring, intent, *wait)
	if err != nil {
		return err
	}
	defer run.Close()
	printChooser(c.wiring.stdout, run.session, *width)

	watcher, err := pkgwatch.New(pkgwatch.Options{
		Path:     run.env.catalog.Path(),
		Debounce: run.env.cfg.WatchDebounce(),
		Reloader: run.env.catalog,
		OnChange: func(ctx context.Context) error {
			waitCtx, cancel := context.WithTimeout(ctx, max(*wait, time.Second))
			defer cancel()
			if err := run.session.HandlePackagesChanged(waitCtx); err != nil {
				return err
			}
			if err := run.session.WaitReady(waitCtx); err != nil {
				return err
			}
			fmt.Fprintln(c.wiring.stdout)
			printChooser(c.wiring.stdout, run.session, *width)
			return nil
		},
		Logger: run.env.logger,
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	run.env.logger.Info("watching_catalog", logging.F("path", run.env.catalog.Path()))
	<-ctx.Done()
	return watcher.Stop()
}
