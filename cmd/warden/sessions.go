package main

import (
	"context"
	"fmt"

	"github.com/wardenhq/warden/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	sessionsProject string
	sessionsLimit   int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect agent sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			sessions, err := st.ListSessions(ctx, sessionsProject, sessionsLimit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(sessions)
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions recorded.")
				return nil
			}

			rows := make([]table.Row, 0, len(sessions))
			for _, sess := range sessions {
				rows = append(rows, table.Row{
					sess.ID, sess.Project, sess.Role, sess.Status,
					sess.Requester, sess.Channel, stamp(sess.StartedAt),
				})
			}
			renderTable(table.Row{"ID", "Project", "Role", "Status", "Requester", "Channel", "Started"}, rows)
			return nil
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one session with its tool calls and decisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			sess, err := st.GetSession(ctx, id)
			if err != nil {
				return err
			}
			uses, err := st.ListToolUses(ctx, id)
			if err != nil {
				return err
			}
			decisions, err := st.DecisionsBySession(ctx, id)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(map[string]any{
					"session":   sess,
					"tool_uses": uses,
					"decisions": decisions,
				})
			}

			fmt.Printf("Session %s\n", sess.ID)
			fmt.Printf("  project:   %s\n", sess.Project)
			fmt.Printf("  role:      %s\n", sess.Role)
			fmt.Printf("  status:    %s\n", sess.Status)
			fmt.Printf("  requester: %s (%s, %s)\n", sess.Requester, sess.Channel, sess.Trust)
			fmt.Printf("  intent:    %s\n", truncate(sess.Intent, 120))
			fmt.Printf("  tokens:    %d in / %d out\n", sess.InputTokens, sess.OutputTokens)
			fmt.Printf("  started:   %s\n", stamp(sess.StartedAt))
			if sess.EndedAt != nil {
				fmt.Printf("  ended:     %s\n", stamp(*sess.EndedAt))
			}
			if sess.ParentID != "" {
				fmt.Printf("  parent:    %s (depth %d)\n", sess.ParentID, sess.Depth)
			}
			if sess.Error != "" {
				fmt.Printf("  error:     %s\n", sess.Error)
			}
			if sess.Summary != "" {
				fmt.Printf("  summary:   %s\n", sess.Summary)
			}

			if len(uses) > 0 {
				fmt.Println()
				rows := make([]table.Row, 0, len(uses))
				for _, u := range uses {
					outcome := "ok"
					if !u.OK {
						outcome = truncate(u.Error, 40)
					}
					flag := ""
					if u.Significant {
						flag = "significant"
					}
					rows = append(rows, table.Row{u.Tool, outcome, flag, stamp(u.CreatedAt)})
				}
				renderTable(table.Row{"Tool", "Outcome", "", "At"}, rows)
			}

			if len(decisions) > 0 {
				fmt.Println()
				rows := make([]table.Row, 0, len(decisions))
				for _, d := range decisions {
					rows = append(rows, table.Row{d.Number, truncate(d.Title, 60)})
				}
				renderTable(table.Row{"Decision", "Title"}, rows)
			}
			return nil
		})
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.PersistentFlags().StringVarP(&sessionsProject, "project", "p", "", "filter by project")
	sessionsCmd.PersistentFlags().IntVar(&sessionsLimit, "limit", 20, "maximum rows")
	rootCmd.AddCommand(sessionsCmd)
}
