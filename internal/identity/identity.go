// Package identity loads the agent's persona file: free-text markdown
// appended verbatim to the Agent Loop's system prompt. Parsing its
// structure is explicitly out of scope — this package only resolves
// the path and reads the file, falling back to a short default when
// none exists yet.
package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arc-run/arc/internal/config"
)

const defaultPersona = "You are a helpful, direct assistant. No persona file has been configured yet."

// Load reads cfg.Identity.Path (expanding a leading "~") and returns
// its contents verbatim. A missing file is not an error — Load
// returns defaultPersona instead, since a fresh install has no
// identity.md yet.
func Load(cfg config.IdentityConfig) (string, error) {
	path, err := config.ExpandHome(cfg.Path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultPersona, nil
		}
		return "", fmt.Errorf("identity: reading %s: %w", path, err)
	}
	return string(data), nil
}

// Save writes text verbatim to cfg.Identity.Path, creating parent
// directories as needed. Used by `arc init` to seed identity.md with
// a default text.
func Save(cfg config.IdentityConfig, text string) error {
	path, err := config.ExpandHome(cfg.Path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("identity: creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("identity: writing %s: %w", path, err)
	}
	return nil
}
