package ops

import (
	"fmt"
	"strings"
	"time"

	"main/internal/schema"
	"main/internal/strategy"
)

// StrategyConfig declares one strategy to start at boot. Prices and
// quantities are decimal strings; durations are nanoseconds.
type StrategyConfig struct {
	Kind string      `json:"kind" yaml:"kind"`
	Pair schema.Pair `json:"pair" yaml:"pair"`
	Side string      `json:"side" yaml:"side"`

	// OCO
	Qty                  string `json:"qty" yaml:"qty"`
	TakeProfitPrice      string `json:"takeProfitPrice" yaml:"takeProfitPrice"`
	StopTrigger          string `json:"stopTrigger" yaml:"stopTrigger"`
	StopLimitPrice       string `json:"stopLimitPrice" yaml:"stopLimitPrice"`
	PartialFillThreshold string `json:"partialFillThreshold" yaml:"partialFillThreshold"`

	// TWAP
	TotalQty      string        `json:"totalQty" yaml:"totalQty"`
	Slices        int           `json:"slices" yaml:"slices"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
	SliceTimeout  time.Duration `json:"sliceTimeout" yaml:"sliceTimeout"`
	LimitAtLatest bool          `json:"limitAtLatest" yaml:"limitAtLatest"`

	// Grid
	Levels      int    `json:"levels" yaml:"levels"`
	Spacing     string `json:"spacing" yaml:"spacing"`
	QtyPerLevel string `json:"qtyPerLevel" yaml:"qtyPerLevel"`
	Center      string `json:"center" yaml:"center"`
}

// StrategySpec is one resolved boot strategy.
type StrategySpec struct {
	Kind schema.StrategyKind
	OCO  strategy.OCOParams
	TWAP strategy.TWAPParams
	Grid strategy.GridParams
}

// ResolveStrategies parses boot strategy declarations into typed params.
func ResolveStrategies(configs []StrategyConfig) ([]StrategySpec, error) {
	specs := make([]StrategySpec, 0, len(configs))
	for i, cfg := range configs {
		spec, err := resolveStrategy(cfg)
		if err != nil {
			return nil, fmt.Errorf("invalid strategy %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func resolveStrategy(cfg StrategyConfig) (StrategySpec, error) {
	switch strings.ToLower(cfg.Kind) {
	case "oco":
		side, err := parseSide(cfg.Side)
		if err != nil {
			return StrategySpec{}, err
		}
		qty, err := schema.ParseQuantity(cfg.Qty)
		if err != nil {
			return StrategySpec{}, fmt.Errorf("parse qty: %w", err)
		}
		takeProfit, err := schema.ParsePrice(cfg.TakeProfitPrice)
		if err != nil {
			return StrategySpec{}, fmt.Errorf("parse takeProfitPrice: %w", err)
		}
		stopTrigger, err := schema.ParsePrice(cfg.StopTrigger)
		if err != nil {
			return StrategySpec{}, fmt.Errorf("parse stopTrigger: %w", err)
		}
		stopLimit, err := schema.ParsePrice(cfg.StopLimitPrice)
		if err != nil {
			return StrategySpec{}, fmt.Errorf("parse stopLimitPrice: %w", err)
		}
		var threshold schema.Quantity
		if cfg.PartialFillThreshold != "" {
			threshold, err = schema.ParseQuantity(cfg.PartialFillThreshold)
			if err != nil {
				return StrategySpec{}, fmt.Errorf("parse partialFillThreshold: %w", err)
			}
		}
		return StrategySpec{
			Kind: schema.StrategyKindOCO,
			OCO: strategy.OCOParams{
				Pair:                 cfg.Pair,
				Side:                 side,
				Qty:                  qty,
				TakeProfitPrice:      takeProfit,
				StopTrigger:          stopTrigger,
				StopLimitPrice:       stopLimit,
				PartialFillThreshold: threshold,
			},
		}, nil

	case "twap":
		side, err := parseSide(cfg.Side)
		if err != nil {
			return StrategySpec{}, err
		}
		total, err := schema.ParseQuantity(cfg.TotalQty)
		if err != nil {
			return StrategySpec{}, fmt.Errorf("parse totalQty: %w", err)
		}
		return StrategySpec{
			Kind: schema.StrategyKindTWAP,
			TWAP: strategy.TWAPParams{
				Pair:          cfg.Pair,
				Side:          side,
				TotalQty:      total,
				Slices:        cfg.Slices,
				Interval:      cfg.Interval,
				SliceTimeout:  cfg.SliceTimeout,
				LimitAtLatest: cfg.LimitAtLatest,
			},
		}, nil

	case "grid":
		spacing, err := schema.ParsePrice(cfg.Spacing)
		if err != nil {
			return StrategySpec{}, fmt.Errorf("parse spacing: %w", err)
		}
		qtyPerLevel, err := schema.ParseQuantity(cfg.QtyPerLevel)
		if err != nil {
			return StrategySpec{}, fmt.Errorf("parse qtyPerLevel: %w", err)
		}
		var center schema.Price
		if cfg.Center != "" {
			center, err = schema.ParsePrice(cfg.Center)
			if err != nil {
				return StrategySpec{}, fmt.Errorf("parse center: %w", err)
			}
		}
		return StrategySpec{
			Kind: schema.StrategyKindGrid,
			Grid: strategy.GridParams{
				Pair:        cfg.Pair,
				Levels:      cfg.Levels,
				Spacing:     spacing,
				QtyPerLevel: qtyPerLevel,
				Center:      center,
			},
		}, nil

	default:
		return StrategySpec{}, fmt.Errorf("unknown strategy kind %q", cfg.Kind)
	}
}

func parseSide(s string) (schema.OrderSide, error) {
	switch strings.ToLower(s) {
	case "buy":
		return schema.OrderSideBuy, nil
	case "sell":
		return schema.OrderSideSell, nil
	default:
		return schema.OrderSideUnknown, fmt.Errorf("unknown side %q", s)
	}
}
