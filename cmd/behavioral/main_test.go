package main

import (
	"path/filepath"
	"testing"

	"github.com/joeycumines/behavioral/internal/config"
)

func TestRun(t *testing.T) {
	t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "config"))

	if err := run([]string{"version"}); err != nil {
		t.Errorf("version failed: %v", err)
	}
	if err := run(nil); err != nil {
		t.Errorf("help failed: %v", err)
	}
	if err := run([]string{"nope"}); err == nil || err.Error() != "command not found: nope" {
		t.Errorf("Unexpected error for an unknown command: %v", err)
	}
}
