package command

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/joeycumines/behavioral/internal/behavior"
	"github.com/joeycumines/behavioral/internal/config"
)

// ValidateCommand builds tree definitions without running them.
type ValidateCommand struct {
	*BaseCommand
	config *config.Config
	quiet  bool
}

// NewValidateCommand creates a new validate command.
func NewValidateCommand(cfg *config.Config) *ValidateCommand {
	return &ValidateCommand{
		BaseCommand: NewBaseCommand(
			"validate",
			"Check tree definitions and print their structure",
			"validate [options] <tree.yaml>...",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the validate command.
func (c *ValidateCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.quiet, "q", false, "Only report errors")
}

// Execute builds every definition, reporting each one's errors.
func (c *ValidateCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintf(stderr, "Usage: behavioral %s\n", c.Usage())
		return errors.New("no tree definitions given")
	}
	s, err := settings(c.config, c.Name())
	if err != nil {
		return err
	}
	failed := 0
	for _, path := range args {
		tree, err := buildTree(path, s)
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(stderr, "%s: %v\n", path, err)
			continue
		}
		if c.quiet {
			continue
		}
		name := tree.Name
		if name == "" {
			name = "(unnamed)"
		}
		_, _ = fmt.Fprintf(stdout, "%s: %s\n", path, name)
		_, _ = fmt.Fprint(stdout, behavior.Render(tree.Root))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d definitions invalid", failed, len(args))
	}
	return nil
}
