package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"main/internal/recorder"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/tracker"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the config file layout. JSON and YAML are both
// accepted; the extension decides the decoder.
type FileConfig struct {
	Feed      FeedConfig      `json:"feed" yaml:"feed"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Risk      risk.Config     `json:"risk" yaml:"risk"`
	Tracker   tracker.Config  `json:"tracker" yaml:"tracker"`
	Recorder  RecorderConfig  `json:"recorder" yaml:"recorder"`
	Pyroscope PyroscopeConfig `json:"pyroscope" yaml:"pyroscope"`
	QueueCap  int             `json:"queueCapacity" yaml:"queueCapacity"`

	Strategies []StrategyConfig `json:"strategies" yaml:"strategies"`
}

// FeedConfig names the pairs to stream market data for. MarketDataOnly
// switches the stream to Binance's public market-data endpoint.
type FeedConfig struct {
	Pairs          []schema.Pair `json:"pairs" yaml:"pairs"`
	MarketDataOnly bool          `json:"marketDataOnly" yaml:"marketDataOnly"`
}

// GatewayConfig selects the exchange environment.
type GatewayConfig struct {
	Testnet bool `json:"testnet" yaml:"testnet"`
}

// RecorderConfig enables the PostgreSQL event store.
type RecorderConfig struct {
	Enabled  bool            `json:"enabled" yaml:"enabled"`
	Postgres recorder.Config `json:"postgres" yaml:"postgres"`
}

// PyroscopeConfig enables continuous profiling.
type PyroscopeConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ServerAddress string `json:"serverAddress" yaml:"serverAddress"`
}

const defaultQueueCapacity = 4096

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Feed       FeedConfig
	Gateway    GatewayConfig
	Risk       risk.Config
	Tracker    tracker.Config
	Recorder   RecorderConfig
	Pyroscope  PyroscopeConfig
	QueueCap   int
	Strategies []StrategySpec
}

// Load reads and validates a config file.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, fmt.Errorf("parse json config: %w", err)
		}
	}

	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	if len(cfg.Feed.Pairs) == 0 {
		return Loaded{}, fmt.Errorf("invalid config: feed.pairs is empty")
	}
	if len(cfg.Risk.Pairs) == 0 {
		return Loaded{}, fmt.Errorf("invalid config: risk.pairs is empty")
	}

	permitted := make(map[schema.Pair]struct{}, len(cfg.Risk.Pairs))
	for _, p := range cfg.Risk.Pairs {
		if p.Pair == "" {
			return Loaded{}, fmt.Errorf("invalid config: risk pair entry without a pair name")
		}
		permitted[p.Pair] = struct{}{}
	}
	for _, p := range cfg.Feed.Pairs {
		if _, ok := permitted[p]; !ok {
			return Loaded{}, fmt.Errorf("invalid config: feed pair %s is not in risk.pairs", p)
		}
	}

	if cfg.Recorder.Enabled && cfg.Recorder.Postgres.Database == "" {
		return Loaded{}, fmt.Errorf("invalid config: recorder enabled without a database")
	}
	if cfg.Pyroscope.Enabled && cfg.Pyroscope.ServerAddress == "" {
		return Loaded{}, fmt.Errorf("invalid config: pyroscope enabled without a server address")
	}

	if cfg.QueueCap <= 0 {
		cfg.QueueCap = defaultQueueCapacity
	}

	strategies, err := ResolveStrategies(cfg.Strategies)
	if err != nil {
		return Loaded{}, err
	}
	for _, s := range cfg.Strategies {
		if _, ok := permitted[s.Pair]; !ok {
			return Loaded{}, fmt.Errorf("invalid config: strategy pair %s is not in risk.pairs", s.Pair)
		}
	}

	return Loaded{
		Feed:       cfg.Feed,
		Gateway:    cfg.Gateway,
		Risk:       cfg.Risk,
		Tracker:    cfg.Tracker,
		Recorder:   cfg.Recorder,
		Pyroscope:  cfg.Pyroscope,
		QueueCap:   cfg.QueueCap,
		Strategies: strategies,
	}, nil
}
