package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synod/synod/internal/config"
	"github.com/synod/synod/internal/store"
	"github.com/synod/synod/internal/workflow"
)

var workflowState string

var workflowCmd = &cobra.Command{
	Use:   "workflow <kind>",
	Short: "Start an allow-listed workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflow,
}

func init() {
	workflowCmd.Flags().StringVarP(&workflowState, "state", "s", "{}", "Initial state as JSON")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	printHeader("synod workflow")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	var initial map[string]any
	if err := json.Unmarshal([]byte(workflowState), &initial); err != nil {
		return fmt.Errorf("parse --state: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	runner := workflow.NewRunner(st, cfg.Workflow)
	registerWorkflows(runner)

	id, err := runner.Run(cmd.Context(), args[0], initial)
	if err != nil {
		return err
	}
	if err := runner.Wait(cmd.Context(), id); err != nil {
		return err
	}

	rec, err := st.GetWorkflowExecution(id)
	if err != nil {
		return err
	}
	fmt.Printf("Execution: %s\n", rec.ID)
	fmt.Printf("Status:    %s\n", rec.Status)
	fmt.Printf("Version:   %d\n", rec.Version)
	fmt.Printf("State:     %s\n", rec.State)
	return nil
}
