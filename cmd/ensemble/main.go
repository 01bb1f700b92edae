package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jordanhubbard/ensemble/internal/logging"
	"github.com/jordanhubbard/ensemble/pkg/config"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	configPath string
	devMode    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ensemble",
		Short: "Ensemble - persona-driven agent runner",
		Long: `ensemble assembles persona prompts, routes work to personas, runs the
agent binary on a schedule or on demand, and serves live agent output over HTTP.
Command output is JSON unless noted otherwise.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Bypass routing caches (development mode)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newAskCommand())
	rootCmd.AddCommand(newResultsCommand())
	rootCmd.AddCommand(newPersonasCommand())
	rootCmd.AddCommand(newPromptCommand())
	rootCmd.AddCommand(newRouteCommand())
	rootCmd.AddCommand(newLearnCommand())
	rootCmd.AddCommand(newTasksCommand())
	rootCmd.AddCommand(newInboxCommand())
	rootCmd.AddCommand(newAgendaCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newHashKeyCommand())
	rootCmd.AddCommand(newValidateCommand())

	// Interrupts cancel the command context, which kills running agent processes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("ENSEMBLE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadConfig reads the configuration file. A missing file at the default
// location falls back to built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfigFromFile(configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		log.Printf("[Config] %s not found, using defaults", configPath)
		cfg = config.DefaultConfig()
	}
	if devMode {
		cfg.Mode = config.ModeDevelopment
	}
	return cfg, nil
}

// bootstrap installs logging, loads configuration, and wires the app.
func bootstrap(cmd *cobra.Command) (*app, error) {
	logs := logging.NewManager(os.Stderr)
	logs.InstallLogInterceptor()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, logs)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
