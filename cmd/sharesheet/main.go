package main

import (
	"fmt"
	"os"
)

const usageText = `sharesheet resolves share targets for an intent and ranks them.

Usage:
  sharesheet <command> [flags]

Commands:
  resolve  build the chooser for an intent and print the grid
  choose   pick the target at a grid position and record the choice
  pin      pin a component so it sorts first
  unpin    remove a pin
  watch    rebuild the chooser whenever the package catalog changes
  copy     copy the shared text to the clipboard
  config   print configuration (effective or defaults)
  version  print the build version
  help     show help

Flags:
  -h, --help   show help

Intent flags (resolve, choose, watch, copy):
  --action      send|send_multiple|view or a full action (default send)
  --type        mime type of the shared content
  --data        data uri
  --text        shared text (EXTRA_TEXT)
  --category    category (repeatable)
  --extra       key=value extra (repeatable)
  --initial     caller-supplied component pkg/.Class (repeatable)
  --user        profile to open on (default 0)

Examples:
  sharesheet resolve --type text/plain --text "hello"
  sharesheet choose --type text/plain --text "hello" --position 2
  sharesheet pin com.example.mail/.Compose
  sharesheet config --format toml
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	case "version", "--version":
		fmt.Fprintln(wiring.stdout, wiring.version)
		return
	}

	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	exitOnErr(args[0], runner.Run(args[1:]), wiring.stderr)
}
