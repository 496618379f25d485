package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fluxgo/config"
	"github.com/kilianp07/fluxgo/core/governor"
	"github.com/kilianp07/fluxgo/infra/logger"
	"github.com/kilianp07/fluxgo/simulator"
)

var (
	simInverter string
	simInterval time.Duration
	simLoadKW   float64
	simAckDelay time.Duration
	simDropRate float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Emulate an inverter and its battery on the configured MQTT broker",
	RunE:  simulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simInverter, "inverter", "", "inverter id, defaults to the first configured inverter")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", 10*time.Second, "SOC publish interval")
	simulateCmd.Flags().Float64Var(&simLoadKW, "load-kw", 0.5, "constant house load in kW")
	simulateCmd.Flags().DurationVar(&simAckDelay, "ack-latency", 0, "delay before acknowledging a command")
	simulateCmd.Flags().Float64Var(&simDropRate, "drop-rate", 0, "probability of dropping an ack")
	rootCmd.AddCommand(simulateCmd)
}

func simulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("simulate requires mqtt.broker")
	}
	id := simInverter
	if id == "" {
		id = governor.DefaultInverter
		if len(cfg.Inverters) > 0 {
			id = cfg.Inverters[0].ID
		}
	}
	conn, err := simulator.Connect(cfg.MQTT, "fluxgo-sim-"+id)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer conn.Disconnect(250)

	inv := &simulator.Inverter{
		ID:       id,
		Prefix:   cfg.MQTT.TopicPrefix,
		SOCTopic: cfg.Telemetry.SOCTopic(),
		Interval: simInterval,
		LoadKW:   simLoadKW,
		Battery:  simulator.NewBattery(cfg.Battery.Model(), cfg.Battery.InitialSOC),
		Strategy: simulator.RandomAck{Delay: simAckDelay, DropRate: simDropRate},
		Logger:   logger.New("simulator"),
	}
	return inv.Run(ctx, conn)
}
