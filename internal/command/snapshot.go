package command

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/joeycumines/behavioral/internal/config"
)

// SnapshotCommand shows or deletes the saved state of a thread.
type SnapshotCommand struct {
	*BaseCommand
	config   *config.Config
	threadID string
}

// NewSnapshotCommand creates a new snapshot command.
func NewSnapshotCommand(cfg *config.Config) *SnapshotCommand {
	return &SnapshotCommand{
		BaseCommand: NewBaseCommand(
			"snapshot",
			"Show or delete the saved state of a conversation thread",
			"snapshot -thread <id> show|delete",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the snapshot command.
func (c *SnapshotCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.threadID, "thread", "", "Conversation thread ID")
}

// Execute shows or deletes the snapshot.
func (c *SnapshotCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 || c.threadID == "" {
		_, _ = fmt.Fprintf(stderr, "Usage: behavioral %s\n", c.Usage())
		return errors.New("a thread and one action are required")
	}
	s, err := settings(c.config, c.Name())
	if err != nil {
		return err
	}
	backend, err := openBackend(s, c.threadID)
	if err != nil {
		return err
	}
	defer backend.Close()

	switch args[0] {
	case "show":
		snap, err := backend.Load()
		if err != nil {
			return err
		}
		if snap == nil {
			_, _ = fmt.Fprintf(stdout, "No snapshot for thread %s\n", c.threadID)
			return nil
		}
		b, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "%s\n", b)
		return nil

	case "delete":
		if err := backend.Delete(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "Deleted snapshot for thread %s\n", c.threadID)
		return nil
	}

	_, _ = fmt.Fprintf(stderr, "Unknown action: %s\n", args[0])
	return fmt.Errorf("unknown action %q", args[0])
}
