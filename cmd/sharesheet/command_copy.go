package main

import (
	"context"
	"flag"
	"fmt"
	"io"
)

type CopyCommand struct {
	stdout     io.Writer
	stderr     io.Writer
	copyIntent intentCopier
}

func NewCopyCommand(stdout, stderr io.Writer, copyIntent intentCopier) *CopyCommand {
	return &CopyCommand{
		stdout:     stdout,
		stderr:     stderr,
		copyIntent: copyIntent,
	}
}

func (c *CopyCommand) Run(args []string) error {
	fs := flag.NewFlagSet("copy", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	flags := addIntentFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	intent, err := flags.intent()
	if err != nil {
		return err
	}
	method, err := c.copyIntent(context.Background(), intent)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "copied to clipboard (%s)\n", method)
	return nil
}
