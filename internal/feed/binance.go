package feed

import (
	"context"
	"fmt"
	"strings"

	"main/internal/schema"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"
)

const (
	_binanceBaseWsUrl           = "wss://stream.binance.com:9443/ws"
	_binanceBaseWsUrlMarketOnly = "wss://data-stream.binance.vision/ws"
)

// BinanceLive streams miniTicker events off the Binance public websocket
// and publishes them into a feed hub.
type BinanceLive struct {
	wss *ws.WebSocket
	hub *Hub
}

// NewBinanceLive connects to the main endpoint, or to the market-data-only
// endpoint, which serves public streams without touching api.binance.com.
func NewBinanceLive(ctx context.Context, hub *Hub, marketDataOnly bool) *BinanceLive {
	base := _binanceBaseWsUrl
	if marketDataOnly {
		base = _binanceBaseWsUrlMarketOnly
	}
	return &BinanceLive{
		wss: ws.New(ctx, base),
		hub: hub,
	}
}

func (repo *BinanceLive) Close() {
	repo.wss.Close()
}

func (repo *BinanceLive) StartWebsocket(ctx context.Context) error {
	if err := repo.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	return nil
}

type BinanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type BinanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

func subscriberResponseParser(m ws.Message) (BinanceSubscribeResponse, bool) {
	var resp BinanceSubscribeResponse
	err := m.Unmarshal(&resp)
	return resp, err == nil
}

// SubscribeMiniTicker subscribes 'Individual Symbol Mini Ticker Stream'
func (repo *BinanceLive) SubscribeMiniTicker(ctx context.Context, pair schema.Pair) error {
	appendIntoRegister := true
	if err := repo.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := BinanceSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: []string{
					fmt.Sprintf("%s@miniTicker", strings.ToLower(string(pair))),
				},
				ID: 1,
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := subscriberResponseParser(m)
			if !ok || resp.ID != 1 {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

type BinanceMiniTicker struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"` // milliseconds
	Symbol    string          `json:"s"`
	Close     decimal.Decimal `json:"c"`
}

// Observe drains miniTicker events into the hub until the context ends.
func (repo *BinanceLive) Observe(ctx context.Context) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				resp, ok := ws.ReadMessage[BinanceMiniTicker](m)
				if !ok || resp.EventType != "24hrMiniTicker" {
					continue
				}

				price, err := schema.ParsePrice(resp.Close.String())
				if err != nil {
					logs.Warnf("drop tick %s. reason: bad close price %q", resp.Symbol, resp.Close.String())
					continue
				}

				tick := schema.Tick{
					Pair:  schema.Pair(resp.Symbol),
					Price: price,
					Ts:    resp.EventTime * int64(1_000_000),
				}
				if err := repo.hub.Publish(tick); err != nil {
					continue
				}
			}
		}
	}()

	return cancel
}
