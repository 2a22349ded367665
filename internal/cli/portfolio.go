package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// addPortfolioCommands adds portfolio aggregation commands.
func addPortfolioCommands(rootCmd *cobra.Command, app *App) {
	portfolioCmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Consolidated portfolio views",
		Long:  "Valuations and holdings consolidated across all linked broker accounts.",
	}

	portfolioCmd.AddCommand(newPortfolioSummaryCmd(app))
	portfolioCmd.AddCommand(newPortfolioHoldingsCmd(app))

	rootCmd.AddCommand(portfolioCmd)
	rootCmd.AddCommand(newHoldingsCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
}

func newPortfolioSummaryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show a portfolio summary across all accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			summary, err := app.Service.PortfolioSummary(ctx, userFlag(cmd))
			if err != nil {
				output.Error("Failed to build summary: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(summary)
			}

			output.Bold("Portfolio Summary")
			output.Printf("  Current Value:  %s\n", FormatIndianCurrency(summary.TotalValue))
			output.Printf("  Invested:       %s\n", FormatIndianCurrency(summary.TotalInvested))
			output.Printf("  P&L:            %s (%s)\n", output.FormatPnL(summary.TotalPnL), output.FormatPercent(summary.PnLPercent))
			output.Printf("  Holdings:       %d\n", summary.HoldingsCount)
			output.Println()

			if len(summary.Accounts) == 0 {
				return nil
			}

			table := NewTable(output, "ACCOUNT", "BROKER", "STATUS", "VALUE", "P&L", "LAST SYNC")
			for _, a := range summary.Accounts {
				table.AddRow(
					a.DisplayName,
					string(a.Broker),
					output.ConnStatus(string(a.Status)),
					FormatIndianCurrency(a.CurrentValue),
					output.FormatPnL(a.PnL),
					FormatDateTime(a.LastSync),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newPortfolioHoldingsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings",
		Short: "Show holdings consolidated across brokers",
		Long:  "Merge holdings for the same instrument held at different brokers into single rows with quantity-weighted average prices.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			holdings, err := app.Service.ConsolidatedHoldings(ctx, userFlag(cmd))
			if err != nil {
				output.Error("Failed to consolidate holdings: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(holdings)
			}

			if len(holdings) == 0 {
				output.Println("No holdings. Run 'brokersync sync' first.")
				return nil
			}

			table := NewTable(output, "SYMBOL", "EXCH", "QTY", "AVG", "LTP", "VALUE", "P&L", "P&L %")
			for _, h := range holdings {
				table.AddRow(
					h.Symbol,
					h.Exchange,
					FormatQuantity(h.Quantity),
					FormatIndianCurrency(h.AveragePrice),
					FormatIndianCurrency(h.LastPrice),
					FormatIndianCurrency(h.CurrentValue),
					output.FormatPnL(h.PnL),
					output.FormatPercent(h.PnLPercent),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newHoldingsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings <account-id>",
		Short: "Show stored holdings for one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			holdings, err := app.Service.Holdings(ctx, args[0])
			if err != nil {
				output.Error("Failed to fetch holdings: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(holdings)
			}

			if len(holdings) == 0 {
				output.Println("No holdings stored for this account.")
				return nil
			}

			table := NewTable(output, "SYMBOL", "EXCH", "QTY", "AVG", "LTP", "P&L")
			for _, h := range holdings {
				table.AddRow(
					h.Symbol,
					h.Exchange,
					FormatQuantity(h.Quantity),
					FormatIndianCurrency(h.AveragePrice),
					FormatIndianCurrency(h.LastPrice),
					output.FormatPnL(h.PnL),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions <account-id>",
		Short: "Show stored intraday positions for one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			positions, err := app.Service.Positions(ctx, args[0], time.Now())
			if err != nil {
				output.Error("Failed to fetch positions: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}

			if len(positions) == 0 {
				output.Println("No positions stored for today.")
				return nil
			}

			table := NewTable(output, "SYMBOL", "PRODUCT", "NET", "BUY AVG", "SELL AVG", "LTP", "P&L")
			for _, p := range positions {
				table.AddRow(
					p.Symbol,
					string(p.Product),
					FormatQuantity(p.NetQuantity),
					FormatIndianCurrency(p.AvgBuyPrice),
					FormatIndianCurrency(p.AvgSellPrice),
					FormatIndianCurrency(p.LastPrice),
					output.FormatPnL(p.TotalPnL),
				)
			}
			table.Render()
			return nil
		},
	}
}
