package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"main/internal/gateway"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"golang.org/x/time/rate"
)

const (
	_binanceBaseUrl        = "https://api.binance.com"
	_binanceBaseUrlTestnet = "https://testnet.binance.vision"

	_requestTimeout = 15 * time.Second

	// Spot REST allows 1200 request weight per minute; stay under it.
	_requestsPerSecond = 15
	_requestBurst      = 30
)

const (
	// cancelUnknownOrderCode is returned when the order is already in a
	// terminal state on the exchange side.
	cancelUnknownOrderCode = -2011
	// orderNotExistCode is returned by order queries the exchange has no
	// record of.
	orderNotExistCode = -2013
)

// Delegator is a thin request/response wrapper around the Binance spot
// REST endpoints. It performs no retries itself; retry and outcome
// reconciliation policy belongs to the order tracker.
type Delegator struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	key     string
	secret  []byte
}

// Option configures the delegator.
type Option struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// NewDelegator creates a delegator using the provided HTTP client.
func NewDelegator(client *http.Client, opt Option) *Delegator {
	base := _binanceBaseUrl
	if opt.Testnet {
		base = _binanceBaseUrlTestnet
	}
	return &Delegator{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(_requestsPerSecond), _requestBurst),
		baseURL: base,
		key:     opt.APIKey,
		secret:  []byte(opt.APISecret),
	}
}

func binanceSide(side schema.OrderSide) string {
	if side == schema.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

func binanceType(t schema.OrderType) (string, bool) {
	switch t {
	case schema.OrderTypeMarket:
		return "MARKET", true
	case schema.OrderTypeLimit:
		return "LIMIT", true
	case schema.OrderTypeStopLimit:
		return "STOP_LOSS_LIMIT", true
	default:
		return "", false
	}
}

func formatOrderID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// SubmitOrder places an order. The engine client id is forwarded as
// newClientOrderId so a reconciling query can de-duplicate an ambiguous
// submit.
func (d *Delegator) SubmitOrder(ctx context.Context, req gateway.SubmitRequest) (gateway.SubmitResult, error) {
	orderType, ok := binanceType(req.Type)
	if !ok {
		return gateway.SubmitResult{}, exception.ErrOrderUnsupportedType
	}

	params := url.Values{}
	params.Set("symbol", string(req.Pair))
	params.Set("side", binanceSide(req.Side))
	params.Set("type", orderType)
	params.Set("quantity", schema.FormatQuantity(req.Qty))
	params.Set("newClientOrderId", req.ClientID)
	if req.Type != schema.OrderTypeMarket {
		params.Set("timeInForce", "GTC")
		params.Set("price", schema.FormatPrice(req.Price))
	}
	if req.Type == schema.OrderTypeStopLimit {
		params.Set("stopPrice", schema.FormatPrice(req.StopPrice))
	}

	var resp orderResponse
	if err := d.call(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return gateway.SubmitResult{}, err
	}
	if resp.OrderID == 0 {
		return gateway.SubmitResult{}, exception.ErrGatewayEmptyOrderID
	}
	return gateway.SubmitResult{ExchangeID: formatOrderID(resp.OrderID)}, nil
}

// CancelOrder cancels an order. A cancel that lost the race to a committed
// fill resolves to the filled snapshot via a follow-up query.
func (d *Delegator) CancelOrder(ctx context.Context, pair schema.Pair, exchangeID string) (gateway.OrderSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", string(pair))
	params.Set("orderId", exchangeID)

	var resp orderResponse
	err := d.call(ctx, http.MethodDelete, "/api/v3/order", params, &resp)
	if err != nil {
		var rej rejectedError
		if stderrors.As(err, &rej) && rej.api.Code == cancelUnknownOrderCode {
			return d.QueryOrder(ctx, pair, exchangeID)
		}
		return gateway.OrderSnapshot{}, err
	}
	return resp.snapshot()
}

// QueryOrder fetches the authoritative order state.
func (d *Delegator) QueryOrder(ctx context.Context, pair schema.Pair, exchangeID string) (gateway.OrderSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", string(pair))
	params.Set("orderId", exchangeID)

	var resp orderResponse
	if err := d.call(ctx, http.MethodGet, "/api/v3/order", params, &resp); err != nil {
		return gateway.OrderSnapshot{}, err
	}
	return resp.snapshot()
}

// QueryOrderByClientID resolves an ambiguous submit through the client
// order id the engine attached to it. An exchange "order does not exist"
// rejection maps to ErrOrderUnknown so the tracker can mark the submit as
// never delivered.
func (d *Delegator) QueryOrderByClientID(ctx context.Context, pair schema.Pair, clientID string) (gateway.OrderSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", string(pair))
	params.Set("origClientOrderId", clientID)

	var resp orderResponse
	if err := d.call(ctx, http.MethodGet, "/api/v3/order", params, &resp); err != nil {
		var rej rejectedError
		if stderrors.As(err, &rej) && rej.api.Code == orderNotExistCode {
			return gateway.OrderSnapshot{}, exception.ErrOrderUnknown
		}
		return gateway.OrderSnapshot{}, err
	}
	return resp.snapshot()
}

// GetBalance fetches the free/locked amounts for one asset.
func (d *Delegator) GetBalance(ctx context.Context, asset string) (schema.Balance, error) {
	var resp accountResponse
	if err := d.call(ctx, http.MethodGet, "/api/v3/account", url.Values{}, &resp); err != nil {
		return schema.Balance{}, err
	}
	for _, b := range resp.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := schema.ParseQuantity(b.Free)
		if err != nil {
			return schema.Balance{}, errors.Wrap(err, "parse free balance")
		}
		locked, err := schema.ParseQuantity(b.Locked)
		if err != nil {
			return schema.Balance{}, errors.Wrap(err, "parse locked balance")
		}
		return schema.Balance{Asset: asset, Free: free, Locked: locked}, nil
	}
	return schema.Balance{Asset: asset}, nil
}

func (e apiError) Error() string {
	return "binance api error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// rejectedError carries the exchange error body while remaining
// classifiable as a permanent rejection.
type rejectedError struct {
	api apiError
	raw string
}

func (e rejectedError) Error() string {
	if e.api.Code != 0 {
		return e.api.Error()
	}
	return "binance rejected request: " + e.raw
}

func (e rejectedError) Unwrap() error {
	return exception.ErrGatewayRejected
}

func (d *Delegator) call(ctx context.Context, method, path string, params url.Values, out any) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Wrap(exception.ErrGatewayRateLimited, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, _requestTimeout)
	defer cancel()

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	r, err := http.NewRequestWithContext(ctx, method, d.baseURL+path+"?"+query, nil)
	if err != nil {
		return err
	}
	r.Header.Set("X-MBX-APIKEY", d.key)

	resp, err := d.client.Do(r)
	if err != nil {
		if ctx.Err() != nil {
			return exception.ErrGatewayTimeout
		}
		return errors.Wrap(exception.ErrGatewayUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		return exception.ErrGatewayRateLimited
	case resp.StatusCode >= 500:
		return exception.ErrGatewayUnavailable
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		if decodeErr := sonic.ConfigFastest.Unmarshal(body, &apiErr); decodeErr == nil && apiErr.Code != 0 {
			return rejectedError{api: apiErr}
		}
		return rejectedError{raw: strings.TrimSpace(string(body))}
	}

	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(exception.ErrGatewayDecodeResponse, err.Error())
	}
	return nil
}
