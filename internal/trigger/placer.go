package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/gw/okx-autotrader/internal/config"
	"github.com/gw/okx-autotrader/internal/journal"
	"github.com/gw/okx-autotrader/internal/metrics"
	"github.com/gw/okx-autotrader/internal/okx"
)

// PriceSource supplies the reference price of an instrument.
type PriceSource interface {
	LastPrice(ctx context.Context, instID string) (decimal.Decimal, error)
}

type Exchange interface {
	PlaceTriggerBuy(ctx context.Context, instID string, size, triggerPx decimal.Decimal) (*okx.AlgoAck, error)
}

type Journal interface {
	Record(e journal.Entry) error
}

// Order is the outcome of one conditional buy.
type Order struct {
	Instrument string
	Reference  decimal.Decimal
	TriggerPx  decimal.Decimal
	Size       decimal.Decimal
	AlgoID     string
	Err        error
}

type Report struct {
	Orders []Order
	Placed int
	Failed int
}

type Placer struct {
	exchange Exchange
	prices   PriceSource
	set      *config.InstrumentSet
	calc     *Calculator
	journal  Journal
	metrics  *metrics.Metrics
}

func NewPlacer(ex Exchange, prices PriceSource, set *config.InstrumentSet, sigDigits int32, j Journal, m *metrics.Metrics) *Placer {
	return &Placer{
		exchange: ex,
		prices:   prices,
		set:      set,
		calc:     &Calculator{Offsets: set.Offsets, SigDigits: sigDigits},
		journal:  j,
		metrics:  m,
	}
}

// Run places one conditional buy per configured instrument and offset. Each
// order succeeds or fails on its own; the error return is reserved for runs
// that place nothing because every instrument failed.
func (p *Placer) Run(ctx context.Context) (Report, error) {
	var rep Report
	for _, inst := range p.set.Instruments {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		for _, o := range p.placeInstrument(ctx, inst) {
			rep.Orders = append(rep.Orders, o)
			if o.Err != nil {
				rep.Failed++
			} else {
				rep.Placed++
			}
		}
	}

	slog.Info("triggers placed", "placed", rep.Placed, "failed", rep.Failed)
	if rep.Placed == 0 && rep.Failed > 0 {
		return rep, fmt.Errorf("all %d trigger orders failed", rep.Failed)
	}
	return rep, nil
}

func (p *Placer) placeInstrument(ctx context.Context, inst config.Instrument) []Order {
	ref, err := p.prices.LastPrice(ctx, inst.ID)
	if err != nil {
		err = fmt.Errorf("reference price: %w", err)
		p.fail(Order{Instrument: inst.ID}, err)
		return []Order{{Instrument: inst.ID, Err: err}}
	}

	prices, err := p.calc.Prices(ref, inst.Coefficient, inst.Scale)
	if err != nil {
		p.fail(Order{Instrument: inst.ID, Reference: ref}, err)
		return []Order{{Instrument: inst.ID, Reference: ref, Err: err}}
	}
	slog.Debug("trigger prices", "inst", inst.ID, "ref", ref, "coefficient", inst.Coefficient, "prices", prices)

	orders := make([]Order, 0, len(prices))
	for _, px := range prices {
		o := Order{Instrument: inst.ID, Reference: ref, TriggerPx: px}
		o.Size, o.Err = SizeFor(p.set.OrderNotional, px)
		if o.Err == nil {
			var ack *okx.AlgoAck
			ack, o.Err = p.exchange.PlaceTriggerBuy(ctx, inst.ID, o.Size, px)
			if ack != nil {
				o.AlgoID = ack.AlgoID
			}
		}
		if o.Err != nil {
			p.fail(o, o.Err)
		} else {
			p.metrics.Triggers.WithLabelValues("placed").Inc()
			p.record(journal.Entry{
				Type: journal.KindTriggerPlaced, Instrument: inst.ID,
				Size: o.Size.String(), Price: px.String(), OrderID: o.AlgoID,
			})
			slog.Info("trigger placed", "inst", inst.ID, "trigger_px", px, "size", o.Size, "algo_id", o.AlgoID)
		}
		orders = append(orders, o)
	}
	return orders
}

func (p *Placer) fail(o Order, err error) {
	p.metrics.Triggers.WithLabelValues("failed").Inc()
	e := journal.Entry{Type: journal.KindTriggerFailed, Instrument: o.Instrument, Error: err.Error()}
	if !o.TriggerPx.IsZero() {
		e.Price = o.TriggerPx.String()
	}
	p.record(e)

	var apiErr *okx.APIError
	if errors.As(err, &apiErr) {
		slog.Error("trigger rejected", "inst", o.Instrument, "trigger_px", o.TriggerPx, "code", apiErr.Code, "s_code", apiErr.SCode, "err", err)
		return
	}
	slog.Error("trigger failed", "inst", o.Instrument, "trigger_px", o.TriggerPx, "err", err)
}

func (p *Placer) record(e journal.Entry) {
	if err := p.journal.Record(e); err != nil {
		slog.Warn("journal write failed", "type", e.Type, "err", err)
	}
}
