// Package command implements the subcommands of the behavioral CLI.
package command

import (
	"flag"
	"io"
)

// Command is a subcommand of the CLI.
type Command interface {
	Name() string

	// Description is a one-line summary, shown by help.
	Description() string

	Usage() string

	// SetupFlags registers the command's flags on fs, which parses the
	// arguments following the command name.
	SetupFlags(fs *flag.FlagSet)

	// Execute runs the command with the arguments left after flag parsing.
	Execute(args []string, stdout, stderr io.Writer) error
}

// BaseCommand implements the descriptive methods of [Command], for
// embedding.
type BaseCommand struct {
	name        string
	description string
	usage       string
}

// NewBaseCommand creates a new BaseCommand.
func NewBaseCommand(name, description, usage string) *BaseCommand {
	return &BaseCommand{
		name:        name,
		description: description,
		usage:       usage,
	}
}

func (c *BaseCommand) Name() string { return c.name }

func (c *BaseCommand) Description() string { return c.description }

func (c *BaseCommand) Usage() string { return c.usage }

// SetupFlags registers no flags.
func (c *BaseCommand) SetupFlags(*flag.FlagSet) {}
