package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/dmwm/workqueue/internal/cmd/client"
	serverrun "github.com/dmwm/workqueue/internal/cmd/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "wq",
		Short:        "Hierarchical work queue",
		Long:         "wq runs a global or local work queue and talks to running queues.",
		SilenceUsage: true,
	}
	clientcmd.AddPersistentFlags(rootCmd)

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a work queue (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := serverrun.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if v, _ := cmd.Flags().GetString("grpc"); v != "" {
				cfg.Server.GRPCAddr = v
			}
			if v, _ := cmd.Flags().GetString("http"); v != "" {
				cfg.Server.HTTPAddr = v
			}
			if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
				cfg.Storage.DataDir = v
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.Log.Level = v
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().StringP("config", "c", os.Getenv("WQ_CONFIG"), "Config file (YAML or JSON)")
	serverStartCmd.Flags().String("grpc", "", "gRPC listen address (overrides config)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (overrides config)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	clientcmd.AddCommands(rootCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
