package main

import (
	"context"
	"flag"
	"fmt"
	"time"
)

type ResolveCommand struct {
	wiring commandWiring
}

func NewResolveCommand(wiring commandWiring) *ResolveCommand {
	return &ResolveCommand{wiring: wiring}
}

func (c *ResolveCommand) Run(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	intent := addIntentFlags(fs)
	tab := fs.Int("tab", -1, "profile tab to show (default: the --user tab)")
	width := fs.Int("width", 0, "cell width")
	wait := fs.Duration("wait", defaultWaitTimeout, "how long to wait for ranking and direct share")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	run, err := openChooser(ctx, c.wiring, intent, *wait)
	if err != nil {
		return err
	}
	defer run.Close()

	if *tab >= 0 && *tab != run.session.Pager().CurrentPage() {
		waitCtx, cancel := context.WithTimeout(ctx, max(*wait, time.Second))
		defer cancel()
		if err := run.session.SetCurrentTab(waitCtx, *tab); err != nil {
			return err
		}
		if err := run.session.WaitReady(waitCtx); err != nil {
			return err
		}
	}
	if sel, ok := run.session.AutoLaunch(ctx); ok {
		fmt.Fprintf(c.wiring.stdout, "auto-launch %s (user %d)\n", sel.Component.FlattenToString(), sel.User)
		return nil
	}
	printChooser(c.wiring.stdout, run.session, *width)
	return nil
}
