package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/model"
	"github.com/wardenhq/warden/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	decisionsProject string
	decisionsLimit   int
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Inspect recorded decisions",
	Long:  `List a project's numbered decision records or search them by meaning.`,
}

var decisionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List decisions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			decisions, err := st.ListDecisions(ctx, decisionsProject, decisionsLimit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(decisions)
			}
			if len(decisions) == 0 {
				fmt.Printf("No decisions recorded for %s.\n", decisionsProject)
				return nil
			}

			rows := make([]table.Row, 0, len(decisions))
			for _, d := range decisions {
				rows = append(rows, table.Row{d.Number, truncate(d.Title, 60), d.DecidedBy, stamp(d.CreatedAt)})
			}
			renderTable(table.Row{"#", "Title", "Decided by", "Created"}, rows)
			return nil
		})
	},
}

var decisionsSearchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search decisions by meaning",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := ensureConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		router, err := model.NewRouter(loaded.Model, loaded.Providers)
		if err != nil {
			return fmt.Errorf("build model router: %w", err)
		}

		query := strings.Join(args, " ")
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			vec, err := router.Embed(ctx, query)
			if err != nil {
				return fmt.Errorf("embed query: %w", err)
			}
			matches, err := st.SearchDecisionVectors(ctx, decisionsProject, vec, decisionsLimit)
			if err != nil {
				return fmt.Errorf("search decisions: %w", err)
			}
			if jsonOut {
				return printJSON(matches)
			}
			if len(matches) == 0 {
				fmt.Println("No matching decisions.")
				return nil
			}

			rows := make([]table.Row, 0, len(matches))
			for _, m := range matches {
				rows = append(rows, table.Row{m.Number, fmt.Sprintf("%.2f", m.Similarity), truncate(m.Title, 60)})
			}
			renderTable(table.Row{"#", "Similarity", "Title"}, rows)
			return nil
		})
	},
}

func init() {
	decisionsCmd.AddCommand(decisionsListCmd)
	decisionsCmd.AddCommand(decisionsSearchCmd)
	decisionsCmd.PersistentFlags().StringVarP(&decisionsProject, "project", "p", "", "project name")
	decisionsCmd.PersistentFlags().IntVar(&decisionsLimit, "limit", 20, "maximum rows")
	_ = decisionsCmd.MarkPersistentFlagRequired("project")
	rootCmd.AddCommand(decisionsCmd)
}
