package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	threadsProject string
	threadsStatus  string
	threadsLimit   int
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Inspect conversation threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's threads, most recently touched first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			threads, err := st.ListThreads(ctx, threadsProject, threadsStatus, threadsLimit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(threads)
			}
			if len(threads) == 0 {
				fmt.Printf("No threads for %s.\n", threadsProject)
				return nil
			}

			rows := make([]table.Row, 0, len(threads))
			for _, t := range threads {
				rows = append(rows, table.Row{
					t.ID, t.Status, strings.Join(t.Participants, ", "),
					truncate(t.Topic, 40), stamp(t.UpdatedAt),
				})
			}
			renderTable(table.Row{"ID", "Status", "Participants", "Topic", "Updated"}, rows)
			return nil
		})
	},
}

func init() {
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.PersistentFlags().StringVarP(&threadsProject, "project", "p", "", "project name")
	threadsCmd.PersistentFlags().StringVar(&threadsStatus, "status", "", "filter by status (active, resolved, stale)")
	threadsCmd.PersistentFlags().IntVar(&threadsLimit, "limit", 20, "maximum rows")
	_ = threadsCmd.MarkPersistentFlagRequired("project")
	rootCmd.AddCommand(threadsCmd)
}
