package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"brokersync/internal/models"
	"brokersync/internal/store"
)

// addOrderCommands adds order routing commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	orderCmd := &cobra.Command{
		Use:   "order",
		Short: "Order placement and tracking",
		Long:  "Place, cancel and list orders routed through connected broker sessions.",
	}

	orderCmd.AddCommand(newOrderPlaceCmd(app))
	orderCmd.AddCommand(newOrderCancelCmd(app))
	orderCmd.AddCommand(newOrderListCmd(app))

	rootCmd.AddCommand(orderCmd)
}

func newOrderPlaceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place <symbol> <quantity>",
		Short: "Place an order on a connected account",
		Long: `Place an order through a linked broker account.

A live session is established from stored credentials if none exists.
Market orders need no price, limit orders need --price, stop orders
need --trigger.`,
		Example: `  brokersync order place RELIANCE 10 --account acc-123
  brokersync order place INFY 5 --account acc-123 --side SELL --type LIMIT --price 1500
  brokersync order place TCS 10 --account acc-123 --product MIS --type SL --price 3400 --trigger 3390`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			symbol := strings.ToUpper(args[0])
			qty := 0
			fmt.Sscanf(args[1], "%d", &qty)
			if qty <= 0 {
				output.Error("Invalid quantity: %s", args[1])
				return fmt.Errorf("invalid quantity")
			}

			accountID, _ := cmd.Flags().GetString("account")
			if accountID == "" {
				output.Error("--account is required")
				return fmt.Errorf("missing account")
			}

			side, _ := cmd.Flags().GetString("side")
			orderType, _ := cmd.Flags().GetString("type")
			product, _ := cmd.Flags().GetString("product")
			exchange, _ := cmd.Flags().GetString("exchange")
			price, _ := cmd.Flags().GetFloat64("price")
			trigger, _ := cmd.Flags().GetFloat64("trigger")

			req := models.OrderRequest{
				Symbol:       symbol,
				Exchange:     exchange,
				Transaction:  models.TransactionType(strings.ToUpper(side)),
				Type:         models.OrderType(strings.ToUpper(orderType)),
				Product:      models.ProductType(strings.ToUpper(product)),
				Quantity:     qty,
				Price:        price,
				TriggerPrice: trigger,
			}

			order, err := app.Service.PlaceOrder(ctx, accountID, req)
			if err != nil {
				output.Error("Order failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}

			output.Success("✓ Order placed")
			output.Printf("  Order ID: %s\n", order.BrokerOrderID)
			output.Printf("  Symbol:   %s\n", order.Symbol)
			output.Printf("  Side:     %s\n", order.Transaction)
			output.Printf("  Quantity: %d\n", order.Quantity)
			output.Printf("  Type:     %s\n", order.Type)
			output.Printf("  Status:   %s\n", order.Status)
			if order.Price > 0 {
				output.Printf("  Price:    %s\n", FormatIndianCurrency(order.Price))
			}
			return nil
		},
	}

	cmd.Flags().String("account", "", "account to route the order through")
	cmd.Flags().String("side", "BUY", "BUY or SELL")
	cmd.Flags().String("type", "MARKET", "order type (MARKET, LIMIT, SL, SL-M)")
	cmd.Flags().String("product", "CNC", "product type (CNC, MIS, NRML)")
	cmd.Flags().String("exchange", "NSE", "exchange")
	cmd.Flags().Float64("price", 0, "limit price")
	cmd.Flags().Float64("trigger", 0, "trigger price for stop orders")

	return cmd
}

func newOrderCancelCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an open order",
		Long: "Cancel an open order by the id shown in 'order list'. The owning " +
			"account is resolved from the stored order. Cancelling an already " +
			"terminal order is a no-op.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			order, err := app.Service.CancelOrder(ctx, args[0])
			if err != nil {
				output.Error("Cancel failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("✓ Order %s is %s", order.BrokerOrderID, order.Status)
			return nil
		},
	}

	return cmd
}

func newOrderListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			accountID, _ := cmd.Flags().GetString("account")
			symbol, _ := cmd.Flags().GetString("symbol")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			orders, err := app.Service.ListOrders(ctx, store.OrderFilter{
				AccountID: accountID,
				Symbol:    strings.ToUpper(symbol),
				Status:    models.OrderStatus(strings.ToUpper(status)),
				Limit:     limit,
			})
			if err != nil {
				output.Error("Failed to list orders: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(orders)
			}

			if len(orders) == 0 {
				output.Println("No orders found.")
				return nil
			}

			table := NewTable(output, "ORDER ID", "SYMBOL", "SIDE", "QTY", "FILLED", "TYPE", "PRICE", "STATUS", "PLACED")
			for _, o := range orders {
				table.AddRow(
					o.ID,
					o.Symbol,
					orderSide(output, o.Transaction),
					FormatQuantity(o.Quantity),
					FormatQuantity(o.FilledQty),
					string(o.Type),
					FormatIndianCurrency(o.Price),
					orderStatus(output, o.Status),
					FormatDateTime(o.PlacedAt),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("account", "", "filter by account")
	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().String("status", "", "filter by status")
	cmd.Flags().Int("limit", 50, "maximum number of orders")

	return cmd
}

func orderSide(output *Output, t models.TransactionType) string {
	if t == models.TransactionBuy {
		return output.Green(string(t))
	}
	return output.Red(string(t))
}

func orderStatus(output *Output, s models.OrderStatus) string {
	switch s {
	case models.OrderComplete:
		return output.Green(string(s))
	case models.OrderRejected, models.OrderCancelled:
		return output.Red(string(s))
	case models.OrderOpen:
		return output.Yellow(string(s))
	default:
		return string(s)
	}
}
