package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/edgard/inboxpilot/internal/sandbox"
)

var (
	sandboxScenario  string
	sandboxMessages  []string
	sandboxFile      string
	sandboxWorkspace string
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Replay scripted conversations without sending anything",
}

var sandboxRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a built-in scenario, a scenario file or ad-hoc messages",
	Example: `  inboxpilot sandbox run --scenario pricing-question
  inboxpilot sandbox run --message "hi" --message "how much is shipping?"
  inboxpilot sandbox run --file ./my-scenario.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := sandbox.Request{ScenarioID: sandboxScenario, Messages: sandboxMessages}
		if sandboxFile != "" {
			data, err := os.ReadFile(sandboxFile)
			if err != nil {
				return fmt.Errorf("failed to read scenario file: %w", err)
			}
			sc, err := sandbox.ParseScenario(data)
			if err != nil {
				return err
			}
			req.Scenario = sc
		}
		if req.ScenarioID == "" && req.Scenario == nil && len(req.Messages) == 0 {
			return errors.New("one of --scenario, --file or --message is required")
		}

		c, err := setup(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer c.Close()

		req.WorkspaceID = sandboxWorkspace
		if req.WorkspaceID == "" {
			req.WorkspaceID = c.cfg.Telegram.WorkspaceID
		}

		res, err := sandbox.NewRunner(c.store, c.client, pipelineConfig(c.cfg), c.log).Run(cmd.Context(), req)
		if err != nil {
			return err
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		return enc.Close()
	},
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		scenarios, err := sandbox.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, sc := range scenarios {
			fmt.Fprintf(out, "%-28s %s\n", sc.ID, sc.Title)
		}
		return nil
	},
}

func init() {
	f := sandboxRunCmd.Flags()
	f.StringVarP(&sandboxScenario, "scenario", "s", "", "Built-in scenario id")
	f.StringArrayVarP(&sandboxMessages, "message", "m", nil, "Customer message, one step each (repeatable)")
	f.StringVarP(&sandboxFile, "file", "f", "", "Scenario YAML file")
	f.StringVarP(&sandboxWorkspace, "workspace", "w", "", "Workspace id (defaults to telegram.workspace_id)")
	sandboxRunCmd.MarkFlagsMutuallyExclusive("scenario", "file", "message")

	sandboxCmd.AddCommand(sandboxRunCmd, sandboxListCmd)
}
