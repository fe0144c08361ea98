package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arc-run/arc/internal/config"
)

func TestLoadReturnsDefaultWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cfg := config.IdentityConfig{Path: filepath.Join(dir, "identity.md")}

	text, err := Load(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if text != defaultPersona {
		t.Fatalf("text = %q, want default persona", text)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := config.IdentityConfig{Path: filepath.Join(dir, "nested", "identity.md")}

	if err := Save(cfg, "You are terse and a little sarcastic.\n"); err != nil {
		t.Fatal(err)
	}
	text, err := Load(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if text != "You are terse and a little sarcastic.\n" {
		t.Fatalf("text = %q", text)
	}
}

func TestLoadPropagatesReadErrorsOtherThanNotExist(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "identity.md"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.IdentityConfig{Path: filepath.Join(dir, "identity.md")}

	if _, err := Load(cfg); err == nil {
		t.Fatal("expected an error reading a directory as a file")
	}
}
