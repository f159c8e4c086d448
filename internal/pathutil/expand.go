// Package pathutil expands user-supplied filesystem paths from config files
// and flags.
package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves $VAR references and a leading "~" against the current
// user's home. Blank input stays blank so callers can treat it as unset.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := homeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}

	return filepath.Clean(expanded), nil
}

// homeDir prefers os.UserHomeDir but tolerates stripped-down environments
// (containers without $HOME) by falling back to the passwd entry.
func homeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil && usableHome(home) {
		return strings.TrimSpace(home), nil
	}
	if current, err := user.Current(); err == nil && usableHome(current.HomeDir) {
		return strings.TrimSpace(current.HomeDir), nil
	}
	return "", fmt.Errorf("no usable home directory")
}

func usableHome(home string) bool {
	trimmed := strings.TrimSpace(home)
	return trimmed != "" && trimmed != "~" && !strings.HasPrefix(trimmed, "~/")
}
