package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/mes/app"
	"github.com/kilianp07/mes/config"
	"github.com/kilianp07/mes/infra/logger"
	"github.com/kilianp07/mes/simulator"
)

var (
	cfgPath   string
	fleetPath string
)

var rootCmd = &cobra.Command{
	Use:           "mes",
	Short:         "Production order distribution service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the order distribution service",
	RunE:  serve,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	serveCmd.Flags().StringVar(&fleetPath, "simulate", "", "run the simulated fleet described in this file (memory transport only)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = serve
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig reads the configuration file. A missing default file falls
// back to defaults and environment overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := cfgPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	var fleet *simulator.Config
	if fleetPath != "" {
		if cfg.Transport.Backend != config.TransportMemory {
			return fmt.Errorf("--simulate requires the memory transport, use the simulate command with %s", cfg.Transport.Backend)
		}
		fc, err := simulator.LoadConfig(fleetPath)
		if err != nil {
			return fmt.Errorf("load fleet: %w", err)
		}
		fleet = &fc
	}

	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	if fleet != nil {
		svc.EnableSimulator(*fleet)
	}
	return svc.Run(ctx)
}
