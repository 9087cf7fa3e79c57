package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"sharesheet/internal/clipboard"
	"sharesheet/internal/config"
	"sharesheet/internal/types"
)

type commandRunner interface {
	Run(args []string) error
}

type (
	configLoader  func() (config.Config, error)
	envOpener     func(cfg config.Config, stderr io.Writer) (*environment, error)
	intentCopier  func(ctx context.Context, intent *types.Intent) (clipboard.Method, error)
	signalContext func(parent context.Context) (context.Context, context.CancelFunc)
)

type commandWiring struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig configLoader
	openEnv    envOpener
	copyIntent intentCopier
	signals    signalContext
	version    string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: config.Load,
		openEnv:    openEnvironment,
		copyIntent: clipboard.CopyIntent,
		signals: func(parent context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
		},
		version: buildVersion(),
	}
}

func buildCommands(wiring commandWiring) map[string]commandRunner {
	return map[string]commandRunner{
		"resolve": NewResolveCommand(wiring),
		"choose":  NewChooseCommand(wiring),
		"pin":     NewPinCommand(wiring, true),
		"unpin":   NewPinCommand(wiring, false),
		"watch":   NewWatchCommand(wiring),
		"copy":    NewCopyCommand(wiring.stdout, wiring.stderr, wiring.copyIntent),
		"config":  NewConfigCommand(wiring.stdout, wiring.stderr, wiring.loadConfig),
	}
}
