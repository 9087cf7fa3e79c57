package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"sharesheet/internal/types"
)

// PinCommand pins or unpins a component for one profile. Pinned components
// sort ahead of everything but the promoted target.
type PinCommand struct {
	wiring commandWiring
	pinned bool
}

func NewPinCommand(wiring commandWiring, pinned bool) *PinCommand {
	return &PinCommand{wiring: wiring, pinned: pinned}
}

func (c *PinCommand) name() string {
	if c.pinned {
		return "pin"
	}
	return "unpin"
}

func (c *PinCommand) Run(args []string) error {
	fs := flag.NewFlagSet(c.name(), flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	user := fs.Int("user", 0, "profile the pin applies to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("component is required, e.g. com.example.mail/.Compose")
	}
	name, err := types.UnflattenComponentName(fs.Arg(0))
	if err != nil {
		return err
	}

	cfg, err := c.wiring.loadConfig()
	if err != nil {
		return err
	}
	env, err := c.wiring.openEnv(cfg, c.wiring.stderr)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.repo.Pins().SetPinned(context.Background(), types.UserHandle(*user), name, c.pinned); err != nil {
		return err
	}
	verb := "pinned"
	if !c.pinned {
		verb = "unpinned"
	}
	fmt.Fprintf(c.wiring.stdout, "%s %s\n", verb, name.FlattenToString())
	return nil
}
