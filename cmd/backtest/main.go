package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"main/internal/backtest"
	"main/internal/ops"
	"main/internal/schema"

	"gopkg.in/yaml.v3"
)

func main() {
	ticksPath := flag.String("ticks", "", "Path to a tick CSV: <unix_ms>,<pair>,<price>")
	strategiesPath := flag.String("strategies", "", "Path to a JSON or YAML strategies file")
	flag.Parse()

	if *ticksPath == "" || *strategiesPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*ticksPath, *strategiesPath); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
}

func run(ticksPath, strategiesPath string) error {
	ticks, err := backtest.LoadTicksCSV(ticksPath)
	if err != nil {
		return fmt.Errorf("load ticks: %w", err)
	}
	if len(ticks) == 0 {
		return fmt.Errorf("no ticks in %s", ticksPath)
	}

	specs, err := loadStrategies(strategiesPath)
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}

	engine := backtest.NewEngine(ticks[0].Ts)
	for i, spec := range specs {
		if err := addStrategy(engine, spec); err != nil {
			return fmt.Errorf("strategy %d: %w", i, err)
		}
	}

	report, err := engine.Run(context.Background(), ticks)
	if err != nil {
		return err
	}

	fmt.Print(report.TradeLog())
	fmt.Printf("trades: %d\n", len(report.Trades))
	fmt.Printf("realized pnl: %s\n", schema.FormatNotional(report.RealizedPnL))
	fmt.Printf("max drawdown: %s\n", schema.FormatNotional(report.MaxDrawdown))
	fmt.Printf("round trips: %d (win rate %.1f%%)\n", report.RoundTrips, report.WinRate())
	return nil
}

type strategiesFile struct {
	Strategies []ops.StrategyConfig `json:"strategies" yaml:"strategies"`
}

func loadStrategies(path string) ([]ops.StrategySpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file strategiesFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, err
		}
	}
	if len(file.Strategies) == 0 {
		return nil, fmt.Errorf("no strategies declared")
	}

	return ops.ResolveStrategies(file.Strategies)
}

func addStrategy(engine *backtest.Engine, spec ops.StrategySpec) error {
	switch spec.Kind {
	case schema.StrategyKindOCO:
		_, err := engine.AddOCO(spec.OCO)
		return err
	case schema.StrategyKindTWAP:
		_, err := engine.AddTWAP(spec.TWAP)
		return err
	case schema.StrategyKindGrid:
		_, err := engine.AddGrid(spec.Grid)
		return err
	default:
		return fmt.Errorf("unsupported strategy kind %s", spec.Kind)
	}
}
