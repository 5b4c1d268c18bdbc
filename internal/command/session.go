package command

import (
	"fmt"
	"path/filepath"

	"github.com/joeycumines/behavioral/internal/config"
	"github.com/joeycumines/behavioral/internal/storage"
	"github.com/joeycumines/behavioral/internal/treespec"
)

// settings resolves the settings seen by command. A nil cfg resolves
// defaults and environment overrides only.
func settings(cfg *config.Config, command string) (config.Settings, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return config.Resolve(cfg, command)
}

// buildTree loads and builds the definition at path, with the defaults of s.
func buildTree(path string, s config.Settings) (*treespec.Tree, error) {
	def, err := treespec.Load(path)
	if err != nil {
		return nil, err
	}
	b := treespec.NewBuilder()
	b.RetryErrors = s.RetryBudget
	b.Inactivity = s.Inactivity
	return b.Build(def)
}

// openBackend opens the snapshot backend of s for threadID. The fs backend
// defaults to the threads directory under the config directory.
func openBackend(s config.Settings, threadID string) (storage.Backend, error) {
	if err := storage.ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	dir := s.StorageDir
	if dir == "" && s.StorageBackend == "fs" {
		base, err := config.DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
		}
		dir = filepath.Join(base, "threads")
	}
	return storage.Open(s.StorageBackend, storage.Options{Dir: dir}, threadID)
}
