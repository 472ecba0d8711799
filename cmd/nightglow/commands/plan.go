package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orderout/nightglow/scheduler"
	"github.com/orderout/nightglow/workflow"
)

func newPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <workflow.json>",
		Short: "Print the batch plan for a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := loadWorkflow(args[0])
			if err != nil {
				return err
			}

			batches, err := scheduler.Plan(wf)
			if err != nil {
				return &ExitError{Code: ExitEscalated, Err: err}
			}

			for i, batch := range batches {
				fmt.Fprintf(cmd.OutOrStdout(), "batch %d: %s\n", i+1, strings.Join(batch.Names(), ", "))
			}

			return nil
		},
	}
}

func loadWorkflow(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ExitError{Code: ExitConfig, Err: fmt.Errorf("reading workflow: %w", err)}
	}

	wf, err := workflow.Parse(data)
	if err != nil {
		return nil, &ExitError{Code: ExitConfig, Err: err}
	}

	return wf, nil
}
