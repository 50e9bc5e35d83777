package okx

import (
	"encoding/json"
	"fmt"
)

// --- API Types ---

// envelope is the common OKX v5 response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// APIError is an exchange-level rejection: either the request failed as a
// whole (Code) or a single item inside it did (SCode).
type APIError struct {
	Code  string
	Msg   string
	SCode string
	SMsg  string
}

func (e *APIError) Error() string {
	if e.SCode != "" && e.SCode != "0" {
		return fmt.Sprintf("okx error %s/%s: %s", e.Code, e.SCode, e.SMsg)
	}
	return fmt.Sprintf("okx error %s: %s", e.Code, e.Msg)
}

// Fill is one record of /api/v5/trade/fills-history.
type Fill struct {
	InstType string `json:"instType"`
	InstID   string `json:"instId"`
	TradeID  string `json:"tradeId"`
	OrdID    string `json:"ordId"`
	ClOrdID  string `json:"clOrdId"`
	BillID   string `json:"billId"`
	FillPx   string `json:"fillPx"`
	FillSz   string `json:"fillSz"`
	Side     string `json:"side"` // "buy" or "sell"
	ExecType string `json:"execType"`
	Fee      string `json:"fee"`
	FeeCcy   string `json:"feeCcy"`
	Ts       string `json:"ts"`
	FillTime string `json:"fillTime"`
}

// FillParams specifies filters for FillsHistory.
type FillParams struct {
	InstType string
	Begin    int64  // ms, inclusive lower bound on ts
	End      int64  // ms, 0 for now
	After    string // billId cursor, returns older records
	Limit    int
}

// OrderRequest is the body of POST /api/v5/trade/order.
type OrderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px,omitempty"`
	TgtCcy  string `json:"tgtCcy,omitempty"`
	ClOrdID string `json:"clOrdId,omitempty"`
}

// OrderAck is one element of the order placement response.
type OrderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// AlgoOrderRequest is the body of POST /api/v5/trade/order-algo.
type AlgoOrderRequest struct {
	InstID      string `json:"instId"`
	TdMode      string `json:"tdMode"`
	Side        string `json:"side"`
	OrdType     string `json:"ordType"` // "trigger"
	Sz          string `json:"sz"`
	TriggerPx   string `json:"triggerPx"`
	OrderPx     string `json:"orderPx"` // "-1" for market execution
	AlgoClOrdID string `json:"algoClOrdId,omitempty"`
}

// AlgoAck is one element of the algo placement/cancel response.
type AlgoAck struct {
	AlgoID      string `json:"algoId"`
	AlgoClOrdID string `json:"algoClOrdId"`
	SCode       string `json:"sCode"`
	SMsg        string `json:"sMsg"`
}

// AlgoOrder is one pending algo order.
type AlgoOrder struct {
	AlgoID    string `json:"algoId"`
	InstID    string `json:"instId"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	Sz        string `json:"sz"`
	TriggerPx string `json:"triggerPx"`
	State     string `json:"state"`
	CTime     string `json:"cTime"`
}

// AlgoListParams specifies filters for PendingAlgoOrders.
type AlgoListParams struct {
	OrdType string
	After   string // algoId cursor
	Limit   int
}

// CancelAlgoRequest identifies one algo order to cancel.
type CancelAlgoRequest struct {
	AlgoID string `json:"algoId"`
	InstID string `json:"instId"`
}

// Ticker is one element of /api/v5/market/ticker.
type Ticker struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	Open24h string `json:"open24h"`
	SodUtc0 string `json:"sodUtc0"`
	Ts      string `json:"ts"`
}
