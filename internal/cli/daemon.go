package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"brokersync/internal/service"
)

// addDaemonCommands adds the background sync daemon command.
func addDaemonCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newDaemonCmd(app))
}

func newDaemonCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the periodic sync scheduler",
		Long: `Run the background scheduler that syncs all active accounts on a
fixed interval. Transient vendor failures are retried with backoff;
credential failures are not. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			scheduler := service.NewScheduler(app.Service, app.Config.Sync.Interval, app.Config.Sync.MaxRetries, app.Logger)

			output.Info("Sync daemon started (interval %s). Press Ctrl-C to stop.", app.Config.Sync.Interval)
			if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
				output.Error("Scheduler stopped: %v", err)
				return err
			}
			output.Println("Sync daemon stopped.")
			return nil
		},
	}
}
