// Package cli provides the command-line interface for the sync core.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"brokersync/internal/config"
	"brokersync/internal/service"
	"brokersync/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// App holds the application dependencies.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Store   store.DataStore
	Service *service.Service
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	dataStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, most commands will be unavailable")
	} else {
		app.Store = dataStore
		logger.Debug().Str("path", cfg.Database.Path).Msg("SQLite store initialized")

		svc, err := service.New(cfg, dataStore, nil, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize service")
		} else {
			app.Service = svc
			logger.Debug().Msg("Service initialized")
		}
	}

	rootCmd := &cobra.Command{
		Use:   "brokersync",
		Short: "BrokerSync - multi-broker account synchronization CLI",
		Long: `BrokerSync keeps multiple Indian stock broker accounts in sync.

It connects to Zerodha, Angel One and Upstox, pulls holdings, positions,
orders and profiles into one local store, routes orders through connected
sessions and consolidates portfolios across accounts.

Use 'brokersync help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/brokersync)")
	rootCmd.PersistentFlags().String("user", "default", "user the accounts belong to")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addAccountCommands(rootCmd, app)
	addSyncCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addPortfolioCommands(rootCmd, app)
	addDaemonCommands(rootCmd, app)

	return rootCmd
}

// requireService guards commands that need the full service graph.
func (a *App) requireService(output *Output) error {
	if a.Service == nil {
		output.Error("Service unavailable. Check database path and BROKERSYNC_SECURITY_MASTER_KEY.")
		return fmt.Errorf("service not initialized")
	}
	return nil
}

// userFlag returns the --user persistent flag value.
func userFlag(cmd *cobra.Command) string {
	user, _ := cmd.Flags().GetString("user")
	return user
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("BrokerSync v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Database")
	output.Printf("  Path:            %s\n", cfg.Database.Path)
	output.Println()

	output.Bold("Sync")
	output.Printf("  Interval:        %s\n", cfg.Sync.Interval)
	output.Printf("  Call Timeout:    %s\n", cfg.Sync.CallTimeout)
	output.Printf("  Workers:         %d\n", cfg.Sync.Workers)
	output.Printf("  Max Retries:     %d\n", cfg.Sync.MaxRetries)
	output.Println()

	output.Bold("Vendors")
	output.Printf("  Angel One:       %s (%d req/s)\n", cfg.Vendors.AngelOne.BaseURL, cfg.Vendors.AngelOne.RatePerSecond)
	output.Printf("  Upstox:          %s (%d req/s)\n", cfg.Vendors.Upstox.BaseURL, cfg.Vendors.Upstox.RatePerSecond)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", cfg.Logging.Level)
	output.Printf("  Console:         %v\n", cfg.Logging.Console)
	output.Printf("  File:            %v\n", cfg.Logging.File)

	return nil
}
