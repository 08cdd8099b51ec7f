package daemon

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateTokenMintsAndPersists(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "nested", "token")

	token, err := LoadOrCreateToken(tokenPath)
	if err != nil {
		t.Fatalf("LoadOrCreateToken: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("token is not base64: %v", err)
	}
	if len(raw) != tokenBytes {
		t.Fatalf("token entropy = %d bytes, want %d", len(raw), tokenBytes)
	}

	info, err := os.Stat(tokenPath)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("token file mode = %o, want 600", perm)
	}

	again, err := LoadOrCreateToken(tokenPath)
	if err != nil {
		t.Fatalf("second LoadOrCreateToken: %v", err)
	}
	if again != token {
		t.Fatalf("token changed between loads")
	}
}

func TestLoadOrCreateTokenPrefersExisting(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("  existing \n"), 0o644); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	token, err := LoadOrCreateToken(tokenPath)
	if err != nil {
		t.Fatalf("LoadOrCreateToken: %v", err)
	}
	if token != "existing" {
		t.Fatalf("token = %q, want trimmed existing value", token)
	}

	data, err := os.ReadFile(tokenPath)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	if strings.TrimSpace(string(data)) != "existing" {
		t.Fatalf("existing token file was rewritten")
	}
}

func TestLoadOrCreateTokenReplacesEmptyFile(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("\n"), 0o600); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	token, err := LoadOrCreateToken(tokenPath)
	if err != nil {
		t.Fatalf("LoadOrCreateToken: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a minted token for empty file")
	}
}
