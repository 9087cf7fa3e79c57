package main

import (
	"context"
	"errors"
	"flag"
)

type ChooseCommand struct {
	wiring commandWiring
}

func NewChooseCommand(wiring commandWiring) *ChooseCommand {
	return &ChooseCommand{wiring: wiring}
}

func (c *ChooseCommand) Run(args []string) error {
	fs := flag.NewFlagSet("choose", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	intent := addIntentFlags(fs)
	position := fs.Int("position", -1, "grid position to choose")
	sub := fs.Int("sub", 0, "activity index within a grouped entry")
	wait := fs.Duration("wait", defaultWaitTimeout, "how long to wait for ranking and direct share")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *position < 0 {
		return errors.New("--position is required")
	}

	ctx := context.Background()
	run, err := openChooser(ctx, c.wiring, intent, *wait)
	if err != nil {
		return err
	}
	defer run.Close()

	sel, err := run.session.Choose(ctx, *position, *sub)
	if err != nil {
		return err
	}
	printSelection(c.wiring.stdout, sel)
	return nil
}
