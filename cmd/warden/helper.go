package main

import (
	"context"
	"fmt"
	"os/user"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/store"

	"github.com/spf13/cobra"
)

// ensureConfig returns the config loaded by the root command, or loads
// one directly when a command runs outside the usual cobra lifecycle.
func ensureConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	return config.Load(cmd)
}

// withStore opens the data directory for one command and closes it
// afterwards. The instance lock is held for the duration, so commands
// block while a running server owns the store.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store) error) error {
	loaded, err := ensureConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(loaded.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	return fn(cmd.Context(), st)
}

// operatorIdentity names the person behind a CLI request, for session
// records and audit lines.
func operatorIdentity() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}
