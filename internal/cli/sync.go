package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"brokersync/internal/models"
)

// addSyncCommands adds synchronization commands.
func addSyncCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newSyncCmd(app))
	rootCmd.AddCommand(newSyncLogsCmd(app))
}

func newSyncCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [account-id]",
		Short: "Synchronize broker data into the local store",
		Long: `Pull holdings, positions, orders and profile data from the broker.

Without an account id, all of the user's active accounts are synced
concurrently. Use --only to restrict the data types.`,
		Example: `  brokersync sync
  brokersync sync acc-123
  brokersync sync acc-123 --only orders,positions`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			only, _ := cmd.Flags().GetStringSlice("only")
			var types []models.SyncDataType
			for _, t := range only {
				types = append(types, models.SyncDataType(t))
			}

			if len(args) == 1 {
				result, err := app.Service.SyncAccount(ctx, args[0], types)
				if err != nil {
					output.Error("Sync failed: %v", err)
					return err
				}
				if output.IsJSON() {
					return output.JSON(result)
				}
				output.Success("✓ Synced %s in %s", result.AccountID, FormatDuration(result.Duration))
				for _, dt := range models.AllSyncDataTypes() {
					if count, ok := result.Counts[dt]; ok {
						output.Printf("  %-10s %d\n", dt, count)
					}
				}
				return nil
			}

			failures := app.Service.SyncAll(ctx, userFlag(cmd), types)
			if output.IsJSON() {
				report := map[string]string{}
				for id, err := range failures {
					report[id] = err.Error()
				}
				return output.JSON(map[string]interface{}{"failures": report})
			}
			if len(failures) == 0 {
				output.Success("✓ All accounts synced")
				return nil
			}
			for id, err := range failures {
				output.Error("✗ %s: %v", id, err)
			}
			return nil
		},
	}

	cmd.Flags().StringSlice("only", nil, "data types to sync (holdings,positions,orders,profile)")

	return cmd
}

func newSyncLogsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-logs <account-id>",
		Short: "Show recent sync attempts for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			limit, _ := cmd.Flags().GetInt("limit")
			logs, err := app.Service.SyncLogs(ctx, args[0], limit)
			if err != nil {
				output.Error("Failed to fetch sync logs: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(logs)
			}

			if len(logs) == 0 {
				output.Println("No sync attempts recorded.")
				return nil
			}

			table := NewTable(output, "TIME", "OUTCOME", "RECORDS", "DURATION", "ERROR")
			for _, l := range logs {
				outcome := output.Green(string(l.Outcome))
				if l.Outcome == models.SyncOutcomeError {
					outcome = output.Red(string(l.Outcome))
				}
				table.AddRow(
					FormatDateTime(l.CreatedAt),
					outcome,
					FormatQuantity(l.Records),
					FormatDuration(l.Duration),
					l.Error,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "maximum number of log entries")

	return cmd
}
