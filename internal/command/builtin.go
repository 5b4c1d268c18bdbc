package command

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/joeycumines/behavioral/internal/config"
)

// HelpCommand displays help information for commands.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

// NewHelpCommand creates a new help command.
func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand(
			"help",
			"Display help information for commands",
			"help [command]",
		),
		registry: registry,
	}
}

// Execute displays help information.
func (c *HelpCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, "behavioral - run behavior trees that hold conversations")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Usage: behavioral <command> [options] [args...]")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Available commands:")

		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()

		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Use 'behavioral help <command>' for more information about a specific command (includes flags).")
		return nil
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}

	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintf(stdout, "Usage: behavioral %s\n", cmd.Usage())

	// Flags are listed by registering them on a throwaway set.
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	buf := &bytes.Buffer{}
	fs.SetOutput(buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Flags:")
		_, _ = fmt.Fprint(stdout, buf.String())
	}
	return nil
}

// VersionCommand displays version information.
type VersionCommand struct {
	*BaseCommand
	version string
}

// NewVersionCommand creates a new version command.
func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand(
			"version",
			"Display version information",
			"version",
		),
		version: version,
	}
}

// Execute displays version information.
func (c *VersionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return errors.New("unexpected arguments")
	}
	_, _ = fmt.Fprintf(stdout, "behavioral version %s\n", c.version)
	return nil
}

// ConfigCommand inspects the configuration.
type ConfigCommand struct {
	*BaseCommand
	config  *config.Config
	section string
	showAll bool
}

// NewConfigCommand creates a new config command.
func NewConfigCommand(cfg *config.Config) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Inspect configuration settings",
			"config [options] [key | schema | validate]",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the config command.
func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.showAll, "all", false, "Show every option set in the configuration file")
	fs.StringVar(&c.section, "command", "", "Resolve keys as seen by this command")
}

// Execute inspects the configuration.
func (c *ConfigCommand) Execute(args []string, stdout, stderr io.Writer) error {
	schema := config.DefaultSchema()
	switch {
	case len(args) == 0 && c.showAll:
		_, _ = fmt.Fprintln(stdout, "Global configuration:")
		for _, key := range slices.Sorted(maps.Keys(c.config.Global)) {
			_, _ = fmt.Fprintf(stdout, "  %s: %s\n", key, c.config.Global[key])
		}
		for _, cmd := range slices.Sorted(maps.Keys(c.config.Commands)) {
			_, _ = fmt.Fprintf(stdout, "\n[%s]\n", cmd)
			options := c.config.Commands[cmd]
			for _, key := range slices.Sorted(maps.Keys(options)) {
				_, _ = fmt.Fprintf(stdout, "  %s: %s\n", key, options[key])
			}
		}
		return nil

	case len(args) == 0:
		_, _ = fmt.Fprintln(stdout, "Configuration:")
		_, _ = fmt.Fprintln(stdout, "  config <key>      - Show the resolved value of an option")
		_, _ = fmt.Fprintln(stdout, "  config -all       - Show the configuration file's options")
		_, _ = fmt.Fprintln(stdout, "  config schema     - Show every known option")
		_, _ = fmt.Fprintln(stdout, "  config validate   - Validate the configuration file")
		return nil

	case len(args) == 1 && args[0] == "schema":
		_, _ = fmt.Fprint(stdout, schema.FormatHelp())
		return nil

	case len(args) == 1 && args[0] == "validate":
		issues := config.ValidateConfig(c.config, schema)
		if len(issues) == 0 {
			_, _ = fmt.Fprintln(stdout, "Configuration is valid.")
			return nil
		}
		_, _ = fmt.Fprintf(stdout, "Configuration has %d issue(s):\n", len(issues))
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
		}
		return fmt.Errorf("invalid configuration")

	case len(args) == 1:
		key := args[0]
		if !schema.IsKnown(c.section, key) {
			_, _ = fmt.Fprintf(stderr, "Unknown option: %s\n", key)
			return fmt.Errorf("unknown option %q", key)
		}
		_, _ = fmt.Fprintf(stdout, "%s: %s\n", key, schema.Resolve(c.config, c.section, key))
		return nil
	}

	_, _ = fmt.Fprintln(stderr, "Invalid number of arguments")
	return errors.New("invalid arguments")
}
