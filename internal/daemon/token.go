package daemon

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tokenBytes = 32

// LoadOrCreateToken returns the daemon auth token, minting one on first
// start. The file is kept at mode 0600 so other local users cannot read it.
func LoadOrCreateToken(tokenPath string) (string, error) {
	data, err := os.ReadFile(tokenPath)
	switch {
	case err == nil:
		if token := strings.TrimSpace(string(data)); token != "" {
			_ = os.Chmod(tokenPath, 0o600)
			return token, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read token: %w", err)
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := base64.StdEncoding.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(tokenPath), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(tokenPath, []byte(token+"\n"), 0o600); err != nil {
		return "", err
	}
	return token, nil
}
