package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/kbsync/internal/config"
	"github.com/dshills/kbsync/internal/mcp"
	"github.com/dshills/kbsync/internal/project"
	"github.com/dshills/kbsync/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "kbsync",
	Short:         "Incremental indexer for knowledge sources",
	Long:          `Keeps folders, file lists and web pages indexed for semantic and keyword search.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kbsync\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		server, err := mcp.NewServer(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}

		logger.Info("MCP server ready, listening on stdio",
			slog.String("version", version),
			slog.String("build_mode", storage.BuildMode),
			slog.String("data_dir", cfg.DataDir))
		return server.Serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd, serveCmd, indexCmd, watchCmd, clearCmd, statusCmd)
}

// setup loads configuration and builds the stderr logger; stdout is reserved
// for MCP traffic and command output
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openProject loads configuration and opens the project store
func openProject(id string) (*project.Service, *slog.Logger, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, nil, err
	}
	svc, err := project.Open(cfg, id, project.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("open project %s: %w", id, err)
	}
	return svc, logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
