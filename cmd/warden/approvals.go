package main

import (
	"context"
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	approvalsProject string
	approvalsStatus  string
	approvalsLimit   int
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review and settle approval requests",
	Long:  `Approval-gated tools file a pending request and block until someone grants it. List what is waiting, then grant or deny by id.`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			approvals, err := st.ListApprovals(ctx, approvalsProject, approvalsStatus, approvalsLimit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(approvals)
			}
			if len(approvals) == 0 {
				fmt.Printf("No approval requests for %s.\n", approvalsProject)
				return nil
			}

			rows := make([]table.Row, 0, len(approvals))
			for _, a := range approvals {
				rows = append(rows, table.Row{
					a.ID, a.Tool, a.RequestedBy, a.Approver, a.Status, stamp(a.ExpiresAt),
				})
			}
			renderTable(table.Row{"ID", "Tool", "Requested by", "Approver", "Status", "Expires"}, rows)
			return nil
		})
	},
}

var approvalsGrantCmd = &cobra.Command{
	Use:   "grant <id>",
	Short: "Grant a pending approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return settleApproval(cmd, args[0], store.ApprovalGranted)
	},
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <id>",
	Short: "Deny a pending approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return settleApproval(cmd, args[0], store.ApprovalDenied)
	},
}

func settleApproval(cmd *cobra.Command, id, status string) error {
	return withStore(cmd, func(ctx context.Context, st *store.Store) error {
		if err := st.ResolveApproval(ctx, id, status, time.Now().UTC()); err != nil {
			return err
		}
		fmt.Printf("✓ Approval %s %s.\n", id, status)
		return nil
	})
}

func init() {
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsGrantCmd)
	approvalsCmd.AddCommand(approvalsDenyCmd)
	approvalsListCmd.Flags().StringVarP(&approvalsProject, "project", "p", "", "project name")
	approvalsListCmd.Flags().StringVar(&approvalsStatus, "status", "", "filter by status (pending, granted, denied, expired)")
	approvalsListCmd.Flags().IntVar(&approvalsLimit, "limit", 20, "maximum rows")
	_ = approvalsListCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(approvalsCmd)
}
