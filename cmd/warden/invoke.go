package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/routing"
	"github.com/wardenhq/warden/internal/store"

	"github.com/spf13/cobra"
)

var invokeProject string

var invokeCmd = &cobra.Command{
	Use:   "invoke <intent...>",
	Short: "Run one governed session from the terminal",
	Long:  `Builds a CLI-channel request from the arguments, routes it to a project role and runs the session synchronously. The response text goes to stdout.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := ensureConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		st, err := store.Open(loaded.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		ctx := cmd.Context()
		deps, err := wireRuntime(ctx, loaded, st)
		if err != nil {
			return err
		}
		defer deps.Close()

		proj, err := deps.projects.Load(invokeProject)
		if err != nil {
			return err
		}

		req := request.New(request.ChannelCLI, operatorIdentity(), proj.Name, strings.Join(args, " "))
		ctx = logger.WithTraceID(ctx, req.ID)
		req.Trust = deps.classifier.Classify(ctx, req, proj)

		role, intent, err := routing.Route(req, proj)
		if err != nil {
			return err
		}

		out, err := deps.invoker.Invoke(ctx, proj, role, req)
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(map[string]any{
				"request_id": req.ID,
				"session_id": out.Session.ID,
				"role":       role.Name,
				"intent":     string(intent),
				"status":     out.Session.Status,
				"response":   out.Response,
				"warnings":   out.Warnings,
			})
		}

		fmt.Println(out.Response)
		for _, w := range out.Warnings {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(invokeCmd)
	invokeCmd.Flags().StringVarP(&invokeProject, "project", "p", "", "project name")
	_ = invokeCmd.MarkFlagRequired("project")
}
