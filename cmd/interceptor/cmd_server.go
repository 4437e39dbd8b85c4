package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	serverapp "go_http_interceptor/app/interceptor_server_app"
	configs "go_http_interceptor/internal/infra/config"
	"go_http_interceptor/utils"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the interceptor server",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an interceptor server",
	Example: `  interceptor server start --port 4000
  interceptor server start --config ./interceptor.yaml`,
	RunE: runServerStart,
}

func init() {
	serverStartCmd.Flags().String("host", "", "Host to listen on (default from config)")
	serverStartCmd.Flags().Int("port", 0, "Port to listen on (default from config)")
	serverStartCmd.Flags().String("config", "", "Path to the YAML config file")
	serverStartCmd.Flags().String("log-level", "", "Log level (default from config)")

	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)
}

func runServerStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := utils.InitLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	srv, err := serverapp.InitializeServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	utils.GetLogger().Info("shutting down interceptor server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

func loadConfig(cmd *cobra.Command) (*configs.InterceptorConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *configs.InterceptorConfig
		err error
	)
	if path != "" {
		cfg, err = configs.LoadConfigFile(path)
	} else {
		cfg, err = configs.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
