package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"main/internal/bus"
	"main/internal/clock"
	"main/internal/feed"
	"main/internal/gateway/binance"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/recorder"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/strategy"
	"main/internal/tracker"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to JSON or YAML config")
	flag.Parse()

	_ = godotenv.Load()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Pyroscope.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "order-engine/trader",
			ServerAddress:   loaded.Pyroscope.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, loaded); err != nil {
		log.Fatalf("trader failed: %v", err)
	}
}

func run(ctx context.Context, loaded ops.Loaded) error {
	gw := binance.NewDelegator(&http.Client{}, binance.Option{
		APIKey:    os.Getenv("BINANCE_API_KEY"),
		APISecret: os.Getenv("BINANCE_API_SECRET"),
		Testnet:   loaded.Gateway.Testnet,
	})

	hub := feed.NewHub()
	defer hub.Close()

	live := feed.NewBinanceLive(ctx, hub, loaded.Feed.MarketDataOnly)
	defer live.Close()
	if err := live.StartWebsocket(ctx); err != nil {
		return err
	}
	for _, pair := range loaded.Feed.Pairs {
		if err := live.SubscribeMiniTicker(ctx, pair); err != nil {
			return err
		}
	}
	live.Observe(ctx)

	events := bus.NewQueue(loaded.QueueCap)
	defer events.Close()
	metrics := obs.NewMetrics()
	gov := risk.NewGovernor(loaded.Risk, hub, gw)
	tr := tracker.New(loaded.Tracker, gw, gov, events, metrics, clock.Real{})
	engine := strategy.NewEngine(tr, hub, clock.Real{})

	if loaded.Recorder.Enabled {
		store, err := recorder.NewStore(loaded.Recorder.Postgres)
		if err != nil {
			return err
		}
		defer store.Close()
		go store.Run(ctx, events)
	} else {
		go events.Run(ctx, func(schema.OrderEvent) {})
	}

	go tr.RunPollLoop(ctx)
	go tr.RunReconcileLoop(ctx)

	for _, spec := range loaded.Strategies {
		id, err := startStrategy(ctx, engine, spec)
		if err != nil {
			logs.Errorf("start %s strategy, err: %+v", spec.Kind, err)
			continue
		}
		logs.Infof("started %s strategy %s", spec.Kind, id)
	}

	logs.Info("trader started")
	<-sys.Shutdown()
	logs.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logs.Warnf("engine shutdown, err: %+v", err)
	}

	snapshot := metrics.Snapshot()
	logs.Infof("session events: %v, risk denials: %d, reconciles: %d",
		snapshot.OrderEventCounts, snapshot.RiskDenials, snapshot.Reconciles)
	return nil
}

func startStrategy(ctx context.Context, engine *strategy.Engine, spec ops.StrategySpec) (string, error) {
	switch spec.Kind {
	case schema.StrategyKindOCO:
		return engine.CreateOCO(ctx, spec.OCO)
	case schema.StrategyKindTWAP:
		return engine.CreateTWAP(ctx, spec.TWAP)
	case schema.StrategyKindGrid:
		return engine.CreateGrid(ctx, spec.Grid)
	default:
		return "", nil
	}
}
