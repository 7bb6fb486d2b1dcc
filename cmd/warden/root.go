package main

import (
	"fmt"
	"os"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	jsonOut bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden request governor",
	Long:  `Warden governs agent work on repositories: requests are trust-classified, routed to a project role, and run under policy hooks.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.warden/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output JSON instead of tables")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("store.data_dir", "", "data directory (default is $HOME/.warden)")
	rootCmd.PersistentFlags().String("projects_dir", "", "project config directory (default is $HOME/.warden/projects)")
}
