package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joeycumines/behavioral/internal/command"
	"github.com/joeycumines/behavioral/internal/config"
)

const version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		cfg = config.NewConfig()
	}
	for _, w := range cfg.Warnings {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	registry := command.NewRegistry()
	helpCmd := command.NewHelpCommand(registry)
	registry.Register(helpCmd)
	registry.Register(command.NewVersionCommand(version))
	registry.Register(command.NewConfigCommand(cfg))
	registry.Register(command.NewRunCommand(cfg, os.Stdin))
	registry.Register(command.NewValidateCommand(cfg))
	registry.Register(command.NewSnapshotCommand(cfg))

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return helpCmd.Execute(nil, os.Stdout, os.Stderr)
	}

	cmd, err := registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		_, _ = fmt.Fprintln(os.Stderr, "Use 'behavioral help' to see available commands.")
		return err
	}

	fs := flag.NewFlagSet(cmd.Name(), flag.ExitOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: behavioral %s\n", cmd.Usage())
		_, _ = fmt.Fprintf(os.Stderr, "\n%s\n\n", cmd.Description())
		_, _ = fmt.Fprintln(os.Stderr, "Options:")
		fs.PrintDefaults()
	}
	cmd.SetupFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	return cmd.Execute(fs.Args(), os.Stdout, os.Stderr)
}
