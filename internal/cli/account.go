package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"brokersync/internal/models"
)

// addAccountCommands adds broker account management commands.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Broker account management",
		Long:  "Add, remove and inspect linked broker accounts.",
	}

	accountCmd.AddCommand(newAccountAddCmd(app))
	accountCmd.AddCommand(newAccountListCmd(app))
	accountCmd.AddCommand(newAccountRemoveCmd(app))
	accountCmd.AddCommand(newAccountSetPrimaryCmd(app))
	accountCmd.AddCommand(newAccountConnectCmd(app))
	accountCmd.AddCommand(newAccountDisconnectCmd(app))

	rootCmd.AddCommand(accountCmd)
}

func newAccountAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <broker>",
		Short: "Link a new broker account",
		Long: `Link a new broker account and verify its credentials.

Credentials are encrypted before they are stored. The first account a
user links becomes the primary account.`,
		Example: `  brokersync account add zerodha --client-id AB1234 --api-key xxx --api-secret yyy --access-token zzz
  brokersync account add angelone --client-id A123456 --api-key xxx --password pin --totp-seed SEED
  brokersync account add upstox --client-id UP123 --access-token zzz
  brokersync account add paper --client-id PAPER001`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			name, _ := cmd.Flags().GetString("name")
			creds := models.CredentialSet{}
			creds.ClientID, _ = cmd.Flags().GetString("client-id")
			creds.APIKey, _ = cmd.Flags().GetString("api-key")
			creds.APISecret, _ = cmd.Flags().GetString("api-secret")
			creds.AccessToken, _ = cmd.Flags().GetString("access-token")
			creds.Password, _ = cmd.Flags().GetString("password")
			creds.TOTPSeed, _ = cmd.Flags().GetString("totp-seed")

			account, err := app.Service.AddAccount(ctx, userFlag(cmd), models.BrokerType(args[0]), name, creds)
			if err != nil {
				output.Error("Failed to add account: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(account)
			}

			output.Success("✓ Account linked and verified")
			output.Printf("  ID:      %s\n", account.ID)
			output.Printf("  Broker:  %s\n", account.Broker)
			output.Printf("  Status:  %s\n", output.ConnStatus(string(account.Status)))
			if account.IsPrimary {
				output.Info("This is now the primary account.")
			}
			return nil
		},
	}

	cmd.Flags().String("name", "", "display name for the account")
	cmd.Flags().String("client-id", "", "broker client id")
	cmd.Flags().String("api-key", "", "vendor API key")
	cmd.Flags().String("api-secret", "", "vendor API secret")
	cmd.Flags().String("access-token", "", "vendor access token")
	cmd.Flags().String("password", "", "login password or PIN")
	cmd.Flags().String("totp-seed", "", "TOTP seed for two-factor login")

	return cmd
}

func newAccountListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List linked broker accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			accounts, err := app.Service.ListAccounts(ctx, userFlag(cmd))
			if err != nil {
				output.Error("Failed to list accounts: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(accounts)
			}

			if len(accounts) == 0 {
				output.Println("No accounts linked. Use 'brokersync account add' to link one.")
				return nil
			}

			table := NewTable(output, "ID", "BROKER", "NAME", "STATUS", "PRIMARY", "LAST SYNC")
			for _, a := range accounts {
				primary := ""
				if a.IsPrimary {
					primary = "*"
				}
				table.AddRow(
					a.ID,
					string(a.Broker),
					a.DisplayName,
					output.ConnStatus(string(a.Status)),
					primary,
					FormatDateTime(a.LastSync),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newAccountRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Remove a linked broker account",
		Long:  "Remove an account along with its credentials and synced data.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := app.Service.RemoveAccount(ctx, args[0]); err != nil {
				output.Error("Failed to remove account: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"removed": args[0]})
			}
			output.Success("✓ Account %s removed", args[0])
			return nil
		},
	}
}

func newAccountSetPrimaryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "set-primary <account-id>",
		Short: "Mark an account as the user's primary account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := app.Service.SetPrimaryAccount(ctx, userFlag(cmd), args[0]); err != nil {
				output.Error("Failed to set primary account: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"primary": args[0]})
			}
			output.Success("✓ Primary account set to %s", args[0])
			return nil
		},
	}
}

func newAccountConnectCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <account-id>",
		Short: "Establish a live session for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			if err := app.Service.Connect(ctx, args[0]); err != nil {
				output.Error("Connect failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"account_id": args[0], "status": "CONNECTED"})
			}
			output.Success("✓ Connected %s", args[0])
			return nil
		},
	}
}

func newAccountDisconnectCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <account-id>",
		Short: "Drop the live session for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireService(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := app.Service.Disconnect(ctx, args[0]); err != nil {
				output.Error("Disconnect failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"account_id": args[0], "status": "DISCONNECTED"})
			}
			output.Success("✓ Disconnected %s", args[0])
			return nil
		},
	}
}
