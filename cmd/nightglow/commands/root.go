// Package commands implements the nightglow CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Exit codes of the runner process.
const (
	ExitSucceeded = 0
	ExitEscalated = 1
	ExitConfig    = 2
	ExitInternal  = 3
)

// ExitError carries a specific process exit code up to main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

var (
	// Global flags
	redisAddr  string
	sqlitePath string
	mysqlDSN   string
	verbose    bool
)

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return newRootCommand().ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nightglow",
		Short: "Nightglow browser-automation workflow engine",
		Long: `Nightglow plans, schedules and reconciles browser-automation
workflows composed of declarative steps, and streams structured
observability events onto an event bus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "ship events to redis streams at this address")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "record events into this sqlite database")
	rootCmd.PersistentFlags().StringVar(&mysqlDSN, "mysql", "", "record events into this mysql database (DSN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newRunCommand())

	return rootCmd
}
