package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fluxgo/app"
	"github.com/kilianp07/fluxgo/config"
	"github.com/kilianp07/fluxgo/core/engine"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/infra/prices"
	"github.com/kilianp07/fluxgo/pkg/export"
)

var (
	planPrices string
	planSOC    float64
	planFormat string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan one schedule from a price file and print it",
	RunE:  plan,
}

func init() {
	planCmd.Flags().StringVarP(&planPrices, "prices", "p", "", "price file (JSON or YAML), defaults to the configured source")
	planCmd.Flags().Float64Var(&planSOC, "soc", -1, "battery SOC in percent, defaults to battery.initial_soc")
	planCmd.Flags().StringVarP(&planFormat, "format", "f", "json", "output format: json or csv")
	rootCmd.AddCommand(planCmd)
}

func plan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Gateway.Listen = ""
	var src engine.PriceSource
	switch {
	case planPrices != "":
		src = prices.NewFileSource(planPrices)
	case cfg.Prices.Type == "synthetic":
		src = prices.NewSyntheticSource(cfg.Prices.Synthetic)
	default:
		src = prices.NewFileSource(cfg.Prices.Path)
	}
	soc := cfg.Battery.InitialSOC
	if planSOC >= 0 {
		soc = planSOC
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := context.Background()
	snap, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("read prices: %w", err)
	}
	tel := engine.Telemetry{State: model.BatteryState{SOC: soc}, Battery: cfg.Battery.Model(), Available: true}
	sch, err := svc.Engine.Plan(ctx, snap, tel)
	if err != nil {
		return err
	}
	return export.Write(os.Stdout, planFormat, sch)
}
