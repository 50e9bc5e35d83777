package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/gw/okx-autotrader/internal/config"
)

const (
	pageLimit   = 100
	cancelBatch = 10
)

// ErrNoCredentials is returned by private endpoints when no key is configured.
var ErrNoCredentials = errors.New("okx credentials not configured")

type Client struct {
	creds Credentials
	demo  bool

	// read retries idempotent GETs; write never retries, a resent order
	// could execute twice.
	read  *resty.Client
	write *resty.Client

	fillsLimiter  *rate.Limiter
	tradeLimiter  *rate.Limiter
	algoLimiter   *rate.Limiter
	marketLimiter *rate.Limiter

	now func() time.Time
}

func NewClient(cfg *config.Config) *Client {
	read := resty.New().
		SetBaseURL(cfg.OKXBaseURL).
		SetTimeout(cfg.OKXTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && (r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500)
		})
	write := resty.New().
		SetBaseURL(cfg.OKXBaseURL).
		SetTimeout(cfg.OKXTimeout)

	return &Client{
		creds: Credentials{
			APIKey:     cfg.OKXAPIKey,
			SecretKey:  cfg.OKXSecretKey,
			Passphrase: cfg.OKXPassphrase,
		},
		demo:  cfg.Demo(),
		read:  read,
		write: write,

		// OKX limits are per 2s window.
		fillsLimiter:  rate.NewLimiter(rate.Limit(5), 1),
		tradeLimiter:  rate.NewLimiter(rate.Limit(30), 5),
		algoLimiter:   rate.NewLimiter(rate.Limit(2.5), 1),
		marketLimiter: rate.NewLimiter(rate.Limit(10), 2),
		now:           time.Now,
	}
}

// --- Market data ---

func (c *Client) Ticker(ctx context.Context, instID string) (*Ticker, error) {
	params := url.Values{}
	params.Set("instId", instID)

	var result []Ticker
	if err := c.get(ctx, c.marketLimiter, "/api/v5/market/ticker", params, false, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no ticker for %s", instID)
	}
	return &result[0], nil
}

// LastPrice returns the last traded price of instID.
func (c *Client) LastPrice(ctx context.Context, instID string) (decimal.Decimal, error) {
	t, err := c.Ticker(ctx, instID)
	if err != nil {
		return decimal.Zero, err
	}
	px, err := decimal.NewFromString(t.Last)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing last price %q for %s: %w", t.Last, instID, err)
	}
	return px, nil
}

// --- Fills ---

func (c *Client) FillsHistory(ctx context.Context, p FillParams) ([]Fill, error) {
	params := url.Values{}
	instType := p.InstType
	if instType == "" {
		instType = "SPOT"
	}
	params.Set("instType", instType)
	if p.Begin > 0 {
		params.Set("begin", strconv.FormatInt(p.Begin, 10))
	}
	if p.End > 0 {
		params.Set("end", strconv.FormatInt(p.End, 10))
	}
	if p.After != "" {
		params.Set("after", p.After)
	}
	limit := p.Limit
	if limit <= 0 || limit > pageLimit {
		limit = pageLimit
	}
	params.Set("limit", strconv.Itoa(limit))

	var result []Fill
	if err := c.get(ctx, c.fillsLimiter, "/api/v5/trade/fills-history", params, true, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// FillsSince pages backwards through spot fills with ts >= begin, newest
// first. On a page failure it returns what was fetched so far together with
// the error, so callers can tell a partial window from a complete one.
func (c *Client) FillsSince(ctx context.Context, begin int64) ([]Fill, error) {
	var all []Fill
	cursor := ""
	for {
		page, err := c.FillsHistory(ctx, FillParams{Begin: begin, After: cursor, Limit: pageLimit})
		if err != nil {
			return all, fmt.Errorf("fetching fills page after %q: %w", cursor, err)
		}
		all = append(all, page...)
		if len(page) < pageLimit {
			return all, nil
		}
		next := page[len(page)-1].BillID
		if next == "" || next == cursor {
			return all, nil
		}
		cursor = next
		slog.Debug("fetched fills page", "count", len(page), "total", len(all))
	}
}

// --- Orders ---

// PlaceMarketSell submits a spot market sell of size base-currency units.
func (c *Client) PlaceMarketSell(ctx context.Context, instID string, size decimal.Decimal, clOrdID string) (*OrderAck, error) {
	req := OrderRequest{
		InstID:  instID,
		TdMode:  "cash",
		Side:    "sell",
		OrdType: "market",
		Sz:      size.String(),
		TgtCcy:  "base_ccy",
		ClOrdID: clOrdID,
	}
	var result []OrderAck
	code, msg, err := c.post(ctx, c.tradeLimiter, "/api/v5/trade/order", req, &result)
	if err != nil && len(result) == 0 {
		return nil, err
	}
	if len(result) == 0 {
		return nil, &APIError{Code: code, Msg: msg}
	}
	ack := &result[0]
	if code != "0" || ack.SCode != "0" {
		return ack, &APIError{Code: code, Msg: msg, SCode: ack.SCode, SMsg: ack.SMsg}
	}
	return ack, nil
}

// PlaceTriggerBuy places a conditional buy that becomes a limit order at
// triggerPx once the last price touches it.
func (c *Client) PlaceTriggerBuy(ctx context.Context, instID string, size, triggerPx decimal.Decimal) (*AlgoAck, error) {
	req := AlgoOrderRequest{
		InstID:    instID,
		TdMode:    "cash",
		Side:      "buy",
		OrdType:   "trigger",
		Sz:        size.String(),
		TriggerPx: triggerPx.String(),
		OrderPx:   triggerPx.String(),
	}
	var result []AlgoAck
	code, msg, err := c.post(ctx, c.algoLimiter, "/api/v5/trade/order-algo", req, &result)
	if err != nil && len(result) == 0 {
		return nil, err
	}
	if len(result) == 0 {
		return nil, &APIError{Code: code, Msg: msg}
	}
	ack := &result[0]
	if code != "0" || ack.SCode != "0" {
		return ack, &APIError{Code: code, Msg: msg, SCode: ack.SCode, SMsg: ack.SMsg}
	}
	return ack, nil
}

func (c *Client) PendingAlgoOrders(ctx context.Context, p AlgoListParams) ([]AlgoOrder, error) {
	params := url.Values{}
	ordType := p.OrdType
	if ordType == "" {
		ordType = "trigger"
	}
	params.Set("ordType", ordType)
	params.Set("instType", "SPOT")
	if p.After != "" {
		params.Set("after", p.After)
	}
	limit := p.Limit
	if limit <= 0 || limit > pageLimit {
		limit = pageLimit
	}
	params.Set("limit", strconv.Itoa(limit))

	var result []AlgoOrder
	if err := c.get(ctx, c.algoLimiter, "/api/v5/trade/orders-algo-pending", params, true, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// PendingTriggerOrders returns every pending trigger algo order.
func (c *Client) PendingTriggerOrders(ctx context.Context) ([]AlgoOrder, error) {
	var all []AlgoOrder
	cursor := ""
	for {
		page, err := c.PendingAlgoOrders(ctx, AlgoListParams{OrdType: "trigger", After: cursor})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageLimit {
			return all, nil
		}
		cursor = page[len(page)-1].AlgoID
	}
}

// CancelAlgos cancels orders in batches. Acks are returned for every batch
// that was accepted; the first failing batch stops the loop.
func (c *Client) CancelAlgos(ctx context.Context, orders []CancelAlgoRequest) ([]AlgoAck, error) {
	var acks []AlgoAck
	for start := 0; start < len(orders); start += cancelBatch {
		end := min(start+cancelBatch, len(orders))
		var result []AlgoAck
		code, msg, err := c.post(ctx, c.algoLimiter, "/api/v5/trade/cancel-algos", orders[start:end], &result)
		acks = append(acks, result...)
		if err != nil {
			return acks, err
		}
		if code != "0" {
			return acks, &APIError{Code: code, Msg: msg}
		}
	}
	return acks, nil
}

// --- HTTP helpers ---

func (c *Client) request(ctx context.Context, rc *resty.Client, method, path, body string, private bool) (*resty.Request, error) {
	r := rc.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
	if body != "" {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if c.demo {
		r.SetHeader("x-simulated-trading", "1")
	}
	if private {
		if c.creds.empty() {
			return nil, ErrNoCredentials
		}
		r.SetHeaders(AuthHeaders(c.creds, c.now(), method, path, body))
	}
	return r, nil
}

func (c *Client) get(ctx context.Context, lim *rate.Limiter, path string, params url.Values, private bool, out any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	r, err := c.request(ctx, c.read, http.MethodGet, path, "", private)
	if err != nil {
		return err
	}

	slog.Debug("okx request", "method", http.MethodGet, "path", path)
	resp, err := r.Get(path)
	if err != nil {
		return fmt.Errorf("okx request failed: %w", err)
	}
	env, err := decodeEnvelope(resp)
	if err != nil {
		return err
	}
	if env.Code != "0" {
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	return decodeData(env, out)
}

// post returns the envelope code and message alongside the decoded data, since
// batch endpoints report per-item failures in data with a non-zero code.
func (c *Client) post(ctx context.Context, lim *rate.Limiter, path string, payload, out any) (string, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("encoding request: %w", err)
	}
	if err := lim.Wait(ctx); err != nil {
		return "", "", err
	}
	r, err := c.request(ctx, c.write, http.MethodPost, path, string(body), true)
	if err != nil {
		return "", "", err
	}

	slog.Debug("okx request", "method", http.MethodPost, "path", path, "body", string(body))
	resp, err := r.Post(path)
	if err != nil {
		return "", "", fmt.Errorf("okx request failed: %w", err)
	}
	env, err := decodeEnvelope(resp)
	if err != nil {
		return "", "", err
	}
	if err := decodeData(env, out); err != nil {
		return env.Code, env.Msg, err
	}
	return env.Code, env.Msg, nil
}

func decodeEnvelope(resp *resty.Response) (*envelope, error) {
	var env envelope
	jsonErr := json.Unmarshal(resp.Body(), &env)
	if resp.StatusCode() >= 400 {
		if jsonErr == nil && env.Code != "" {
			return nil, &APIError{Code: env.Code, Msg: env.Msg}
		}
		slog.Error("okx API error", "status", resp.StatusCode(), "body", resp.String())
		return nil, fmt.Errorf("okx API error %d: %s", resp.StatusCode(), resp.String())
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("decoding response: %w (body: %s)", jsonErr, resp.String())
	}
	return &env, nil
}

func decodeData(env *envelope, out any) error {
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding data: %w (data: %s)", err, string(env.Data))
	}
	return nil
}
