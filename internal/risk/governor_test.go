package risk

import (
	"context"
	"errors"
	"testing"

	"main/internal/feed"
	"main/internal/gateway"
	"main/internal/schema"
	"main/pkg/exception"
)

type stubGateway struct {
	balances map[string]schema.Balance
}

func (s *stubGateway) SubmitOrder(ctx context.Context, req gateway.SubmitRequest) (gateway.SubmitResult, error) {
	return gateway.SubmitResult{}, exception.ErrInternal
}

func (s *stubGateway) CancelOrder(ctx context.Context, pair schema.Pair, exchangeID string) (gateway.OrderSnapshot, error) {
	return gateway.OrderSnapshot{}, exception.ErrInternal
}

func (s *stubGateway) QueryOrder(ctx context.Context, pair schema.Pair, exchangeID string) (gateway.OrderSnapshot, error) {
	return gateway.OrderSnapshot{}, exception.ErrInternal
}

func (s *stubGateway) QueryOrderByClientID(ctx context.Context, pair schema.Pair, clientID string) (gateway.OrderSnapshot, error) {
	return gateway.OrderSnapshot{}, exception.ErrOrderUnknown
}

func (s *stubGateway) GetBalance(ctx context.Context, asset string) (schema.Balance, error) {
	return s.balances[asset], nil
}

func testConfig() Config {
	return Config{
		Pairs: []PairConfig{
			{Pair: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		},
		MaxPositionNotional: 1_000_000 * schema.Scale,
	}
}

func testGovernor(balances map[string]schema.Balance) (*Governor, *feed.Hub) {
	hub := feed.NewHub()
	gov := NewGovernor(testConfig(), hub, &stubGateway{balances: balances})
	return gov, hub
}

func TestCheckDeniesUnknownPair(t *testing.T) {
	gov, _ := testGovernor(nil)
	err := gov.Check(context.Background(), Intent{
		Pair: "DOGEUSDT", Side: schema.OrderSideBuy, Type: schema.OrderTypeLimit,
		Price: schema.Scale, Qty: schema.Scale,
	})
	if !errors.Is(err, exception.ErrRiskPairNotPermitted) {
		t.Fatalf("expected pair denial, got %v", err)
	}
}

func TestCheckKillSwitch(t *testing.T) {
	cfg := testConfig()
	cfg.KillSwitch = true
	gov := NewGovernor(cfg, feed.NewHub(), &stubGateway{})
	err := gov.Check(context.Background(), Intent{
		Pair: "BTCUSDT", Side: schema.OrderSideBuy, Type: schema.OrderTypeLimit,
		Price: schema.Scale, Qty: schema.Scale,
	})
	if !errors.Is(err, exception.ErrRiskKillSwitch) {
		t.Fatalf("expected kill switch denial, got %v", err)
	}
}

func TestCheckMarketNeedsReferencePrice(t *testing.T) {
	gov, hub := testGovernor(map[string]schema.Balance{
		"USDT": {Asset: "USDT", Free: 1_000_000 * schema.Scale},
	})
	intent := Intent{
		Pair: "BTCUSDT", Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket,
		Qty: schema.Scale,
	}

	err := gov.Check(context.Background(), intent)
	if !errors.Is(err, exception.ErrRiskNoReferencePrice) {
		t.Fatalf("expected missing reference price, got %v", err)
	}

	if err := hub.Publish(schema.Tick{Pair: "BTCUSDT", Price: 100 * schema.Scale, Ts: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := gov.Check(context.Background(), intent); err != nil {
		t.Fatalf("expected approval after tick, got %v", err)
	}
}

func TestCheckInsufficientBalance(t *testing.T) {
	gov, _ := testGovernor(map[string]schema.Balance{
		"USDT": {Asset: "USDT", Free: 50 * schema.Scale},
	})
	err := gov.Check(context.Background(), Intent{
		Pair: "BTCUSDT", Side: schema.OrderSideBuy, Type: schema.OrderTypeLimit,
		Price: 100 * schema.Scale, Qty: schema.Scale,
	})
	if !errors.Is(err, exception.ErrRiskInsufficientBalance) {
		t.Fatalf("expected balance denial, got %v", err)
	}
}

func TestCheckPositionNotionalCap(t *testing.T) {
	gov, _ := testGovernor(map[string]schema.Balance{
		"USDT": {Asset: "USDT", Free: 10_000_000 * schema.Scale},
	})

	// Position worth 900k; the next 200k buy would project past the 1M cap.
	gov.ApplyFill("BTCUSDT", schema.OrderSideBuy, 9*schema.Scale)
	err := gov.Check(context.Background(), Intent{
		Pair: "BTCUSDT", Side: schema.OrderSideBuy, Type: schema.OrderTypeLimit,
		Price: 100_000 * schema.Scale, Qty: 2 * schema.Scale,
	})
	if !errors.Is(err, exception.ErrRiskMaxPositionExceeded) {
		t.Fatalf("expected position cap denial, got %v", err)
	}

	// A sell reduces the projected position and passes.
	err = gov.Check(context.Background(), Intent{
		Pair: "BTCUSDT", Side: schema.OrderSideSell, Type: schema.OrderTypeLimit,
		Price: 100_000 * schema.Scale, Qty: 2 * schema.Scale,
	})
	if !errors.Is(err, exception.ErrRiskInsufficientBalance) {
		// No BTC balance is stubbed, so the sell stops at the balance check
		// after clearing the position cap.
		t.Fatalf("expected balance denial after cap check, got %v", err)
	}
}

func TestCheckBatchCountsWholeLadder(t *testing.T) {
	cfg := Config{
		Pairs:               []PairConfig{{Pair: "BTCUSDT", Base: "BTC", Quote: "USDT"}},
		MaxPositionNotional: 150 * schema.Scale,
	}
	gov := NewGovernor(cfg, feed.NewHub(), &stubGateway{balances: map[string]schema.Balance{
		"BTC":  {Asset: "BTC", Free: 1_000 * schema.Scale},
		"USDT": {Asset: "USDT", Free: 1_000_000 * schema.Scale},
	}})

	batch := []Intent{
		{Pair: "BTCUSDT", Side: schema.OrderSideBuy, Type: schema.OrderTypeLimit, Price: 99 * schema.Scale, Qty: schema.Scale},
		{Pair: "BTCUSDT", Side: schema.OrderSideSell, Type: schema.OrderTypeLimit, Price: 101 * schema.Scale, Qty: schema.Scale},
	}

	// Each order alone clears the 150 cap.
	for _, intent := range batch {
		if err := gov.Check(context.Background(), intent); err != nil {
			t.Fatalf("single order: %v", err)
		}
	}

	// Together the batch is worth ~200 and must be denied.
	if err := gov.CheckBatch(context.Background(), batch); !errors.Is(err, exception.ErrRiskMaxPositionExceeded) {
		t.Fatalf("expected batch denial, got %v", err)
	}

	if err := gov.CheckBatch(context.Background(), batch[:1]); err != nil {
		t.Fatalf("expected approval for the under-cap batch, got %v", err)
	}
}

func TestApplyFillTracksNetPosition(t *testing.T) {
	gov, _ := testGovernor(nil)
	gov.ApplyFill("BTCUSDT", schema.OrderSideBuy, 3*schema.Scale)
	gov.ApplyFill("BTCUSDT", schema.OrderSideSell, schema.Scale)
	if got := gov.Position("BTCUSDT"); got != 2*schema.Scale {
		t.Fatalf("position: got %d", got)
	}
}
