// Package main is the entry point for the alert proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/holmesproxy/alert-core/internal/app"
	"github.com/holmesproxy/alert-core/internal/config"
	"github.com/holmesproxy/alert-core/pkg/logger"
)

const serviceName = "alert-proxy"

var version = "dev" // set via -ldflags at build time

var configPath string

func main() {
	root := &cobra.Command{
		Use:   serviceName,
		Short: "Deduplicates, enriches and routes Alertmanager alerts",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", serviceName, version)
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the alert proxy",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	sanitized := config.NewDefaultConfigSanitizer().Sanitize(cfg)
	log.Info("starting alert proxy", "service", serviceName, "version", version, "profile", cfg.Profile, "config", sanitized)

	ctx := context.Background()
	application, err := app.New(ctx, cfg, configPath, log)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(runCtx); err != nil {
		log.Error("alert proxy exited with error", "error", err)
		return err
	}
	log.Info("alert proxy exited cleanly")
	return nil
}
