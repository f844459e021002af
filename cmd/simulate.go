package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/mes/app/plugins"
	"github.com/kilianp07/mes/config"
	"github.com/kilianp07/mes/infra/logger"
	"github.com/kilianp07/mes/simulator"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated shopfloors against the configured broker",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().StringP("fleet", "f", "", "fleet description (YAML or JSON), defaults to three shopfloors")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Transport.Backend == config.TransportMemory {
		return fmt.Errorf("simulate needs a broker transport; run serve --simulate for the memory transport")
	}
	var fleet simulator.Config
	if path, _ := cmd.Flags().GetString("fleet"); path != "" {
		if fleet, err = simulator.LoadConfig(path); err != nil {
			return fmt.Errorf("load fleet: %w", err)
		}
	}
	// The simulator must not share the server's client ID or consumer group.
	cfg.MQTT.ClientID += "-simulator"
	cfg.Kafka.GroupID += "-simulator"
	t, err := plugins.Transport(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Close(); err != nil {
			logger.New("simulator").Errorf("transport close: %v", err)
		}
	}()
	return simulator.RunFleet(ctx, t, cfg.Dispatch, fleet, logger.New("simulator"))
}
