package tradelog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the liquidation state of a Fill. It only moves forward:
// unprocessed -> locked -> completed.
type Status string

const (
	StatusUnprocessed Status = "unprocessed"
	StatusLocked      Status = "locked"
	StatusCompleted   Status = "completed"
)

// Fill is one exchange execution of a buy order, keyed by TradeID.
type Fill struct {
	TradeID       string
	ParentOrderID string
	Instrument    string
	Side          string
	FillQuantity  decimal.Decimal // this execution's size, not the order's accumulated size
	FillPrice     decimal.Decimal
	FillTimestamp int64 // exchange time, UTC epoch ms
	SellDeadline  int64 // FillTimestamp + holding period, written once
	Status        Status

	Fee          string
	FeeCcy       string
	SellClientID string
	SellOrderID  string
	LastError    string
	LockedAt     int64
	CompletedAt  int64
	CreatedAt    int64
	UpdatedAt    int64
}

// Deadline returns SellDeadline as a UTC time.
func (f *Fill) Deadline() time.Time {
	return time.UnixMilli(f.SellDeadline).UTC()
}

// UpsertResult says what UpsertFill did with a fill.
type UpsertResult int

const (
	Inserted  UpsertResult = iota // new trade id
	Refreshed                     // existing unprocessed row, display fields updated
	Unchanged                     // existing row already past unprocessed
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Refreshed:
		return "refreshed"
	default:
		return "unchanged"
	}
}

// StatusCount is a row of the per-status summary.
type StatusCount struct {
	Status Status
	Count  int
}
