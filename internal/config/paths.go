package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExpandPath resolves $VAR references and a leading ~ in a configured
// path and cleans the result. Empty input stays empty.
func ExpandPath(path string) (string, error) {
	p := os.ExpandEnv(strings.TrimSpace(path))
	switch {
	case p == "":
		return "", nil
	case p == "~":
		return homeDir()
	case strings.HasPrefix(p, "~/"):
		home, err := homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[2:]), nil
	}
	return filepath.Clean(p), nil
}

// homeDir prefers $HOME and falls back to the passwd entry, so a unit
// environment with HOME scrubbed still resolves.
func homeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil && validHome(home) {
		return strings.TrimSpace(home), nil
	}
	if u, err := user.Current(); err == nil && validHome(u.HomeDir) {
		return strings.TrimSpace(u.HomeDir), nil
	}
	return "", fmt.Errorf("home directory is not resolvable")
}

func validHome(home string) bool {
	home = strings.TrimSpace(home)
	return home != "" && home != "~" && !strings.HasPrefix(home, "~/")
}
