package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/wardenhq/warden/internal/config"
)

// ResolveDataDir resolves the configured data directory. If empty, it
// falls back to ~/.warden.
func ResolveDataDir(dataDir string) (string, error) {
	if trimmed := strings.TrimSpace(dataDir); trimmed != "" {
		return config.ExpandPath(trimmed)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".warden"), nil
}

func dbPath(dataDir string) string {
	return filepath.Join(dataDir, "warden.db")
}

func vectorsPath(dataDir string) string {
	return filepath.Join(dataDir, "vectors")
}

func lockPath(dataDir string) string {
	return filepath.Join(dataDir, "warden.lock")
}

// AuditPath returns the audit log location inside a data directory.
func AuditPath(dataDir string) string {
	return filepath.Join(dataDir, "audit.log")
}

// DeliveriesPath returns where the webhook delivery ledger lives inside
// a data directory.
func DeliveriesPath(dataDir string) string {
	return filepath.Join(dataDir, "deliveries.json")
}

// WikiExportDir returns where wiki drafts are mirrored as files. Project
// names use the owner/repo form, so the separator is flattened to keep one
// directory per project.
func WikiExportDir(dataDir, project string) string {
	safe := strings.NewReplacer("/", "-", "\\", "-", "..", "-").Replace(project)
	return filepath.Join(dataDir, "wiki", safe)
}
