package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw/okx-autotrader/internal/journal"
	"github.com/gw/okx-autotrader/internal/metrics"
	"github.com/gw/okx-autotrader/internal/okx"
	"github.com/gw/okx-autotrader/internal/tradelog"
)

const holding = 20 * time.Hour

type fakeExchange struct {
	fills  []okx.Fill
	err    error
	begins []int64
}

func (f *fakeExchange) FillsSince(_ context.Context, begin int64) ([]okx.Fill, error) {
	f.begins = append(f.begins, begin)
	return f.fills, f.err
}

type memJournal struct{ entries []journal.Entry }

func (m *memJournal) Record(e journal.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

// failingStore fails UpsertFill for one trade id.
type failingStore struct {
	*tradelog.Store
	failOn string
}

func (f *failingStore) UpsertFill(ctx context.Context, fl *tradelog.Fill, now int64) (tradelog.UpsertResult, error) {
	if fl.TradeID == f.failOn {
		return tradelog.Unchanged, errors.New("database is locked")
	}
	return f.Store.UpsertFill(ctx, fl, now)
}

// forgetfulStore never reports a watermark, so every run re-reads the window.
type forgetfulStore struct{ *tradelog.Store }

func (forgetfulStore) Watermark(context.Context, string) (int64, bool, error) { return 0, false, nil }

func openStore(t *testing.T) *tradelog.Store {
	t.Helper()
	s, err := tradelog.Open(filepath.Join(t.TempDir(), "autotrader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newIngester(store Store, ex Exchange, nowMs int64) (*Ingester, *memJournal) {
	j := &memJournal{}
	in := New(store, ex, holding, time.Hour, j, metrics.New())
	in.now = func() time.Time { return time.UnixMilli(nowMs) }
	return in, j
}

func buy(tradeID, ordID, sz, px, ts string) okx.Fill {
	return okx.Fill{
		InstType: "SPOT", InstID: "BTC-USDT", TradeID: tradeID, OrdID: ordID,
		Side: "buy", FillSz: sz, FillPx: px, Ts: ts, Fee: "-0.00001", FeeCcy: "BTC",
	}
}

func TestIngestStoresNewFill(t *testing.T) {
	store := openStore(t)
	ex := &fakeExchange{fills: []okx.Fill{buy("T1", "O1", "0.01", "50000", "1700000000000")}}
	in, _ := newIngester(store, ex, 1700000100000)

	rep, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)
	assert.True(t, rep.Advanced)
	assert.Equal(t, []int64{1700000100000 - time.Hour.Milliseconds()}, ex.begins)

	f, err := store.GetFill(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1700072000000), f.SellDeadline)
	assert.Equal(t, tradelog.StatusUnprocessed, f.Status)
	assert.Equal(t, "O1", f.ParentOrderID)
	assert.Equal(t, "0.01", f.FillQuantity.String())

	wm, ok, err := store.Watermark(context.Background(), Scope)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000000), wm)
}

func TestIngestIsIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	ex := &fakeExchange{fills: []okx.Fill{buy("T1", "O1", "0.01", "50000", "1700000000000")}}

	in, _ := newIngester(forgetfulStore{store}, ex, 1700000100000)
	for i := 0; i < 3; i++ {
		_, err := in.Run(ctx)
		require.NoError(t, err)
	}
	all, err := store.RecentFills(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Sold in between; a re-read must not reset anything.
	ok, err := store.Lock(ctx, "T1", "cid", 1700072000001)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Complete(ctx, "T1", "S1", 1700072000002)
	require.NoError(t, err)
	require.True(t, ok)

	rep, err := in.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Unchanged)

	f, err := store.GetFill(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, tradelog.StatusCompleted, f.Status)
	assert.Equal(t, int64(1700072000000), f.SellDeadline)
}

func TestIngestPartialFillsAreSeparateRows(t *testing.T) {
	store := openStore(t)
	ex := &fakeExchange{fills: []okx.Fill{
		buy("T2", "O1", "0.03", "50010", "1700000005000"),
		buy("T1", "O1", "0.01", "50000", "1700000000000"),
	}}
	in, _ := newIngester(store, ex, 1700000100000)

	rep, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Inserted)
	assert.Equal(t, int64(1700000005000), rep.Watermark)

	t1, err := store.GetFill(context.Background(), "T1")
	require.NoError(t, err)
	t2, err := store.GetFill(context.Background(), "T2")
	require.NoError(t, err)
	assert.Equal(t, "0.01", t1.FillQuantity.String())
	assert.Equal(t, "0.03", t2.FillQuantity.String())
	assert.Equal(t, int64(1700072000000), t1.SellDeadline)
	assert.Equal(t, int64(1700072005000), t2.SellDeadline)
}

func TestIngestRejectsMalformedAndSkipsSells(t *testing.T) {
	store := openStore(t)
	sell := buy("S1", "O9", "1", "50000", "1700000001000")
	sell.Side = "sell"
	noID := buy("", "O3", "1", "50000", "1700000001000")
	ex := &fakeExchange{fills: []okx.Fill{
		buy("T1", "O1", "0.01", "50000", "1700000000000"),
		buy("T2", "O2", "0", "50000", "1700000002000"),
		buy("T3", "O3", "abc", "50000", "1700000003000"),
		buy("T4", "O4", "1", "50000", "not-a-ts"),
		noID,
		sell,
	}}
	in, j := newIngester(store, ex, 1700000100000)

	rep, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 4, rep.Rejected)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, int64(1700000000000), rep.Watermark)

	require.Len(t, j.entries, 4)
	assert.Equal(t, journal.KindFillRejected, j.entries[0].Type)
	assert.Equal(t, "T2", j.entries[0].TradeID)
	assert.Contains(t, j.entries[0].Error, "not positive")

	_, err = store.GetFill(context.Background(), "T2")
	assert.ErrorIs(t, err, tradelog.ErrNotFound)
	_, err = store.GetFill(context.Background(), "S1")
	assert.ErrorIs(t, err, tradelog.ErrNotFound)
}

func TestIngestSkipsFillsAtOrBelowWatermark(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.AdvanceWatermark(ctx, Scope, 1700000000000, 1)
	require.NoError(t, err)

	ex := &fakeExchange{fills: []okx.Fill{
		buy("T0", "O0", "0.01", "50000", "1699999999000"),
		buy("T1", "O1", "0.01", "50000", "1700000000000"),
		buy("T2", "O2", "0.01", "50000", "1700000000001"),
	}}
	in, _ := newIngester(store, ex, 1700000100000)

	rep, err := in.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1700000000000}, ex.begins)
	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, int64(1700000000001), rep.Watermark)
}

func TestIngestPartialWindowDoesNotAdvance(t *testing.T) {
	store := openStore(t)
	ex := &fakeExchange{
		fills: []okx.Fill{buy("T1", "O1", "0.01", "50000", "1700000000000")},
		err:   errors.New("connection reset by peer"),
	}
	in, _ := newIngester(store, ex, 1700000100000)

	rep, err := in.Run(context.Background())
	require.Error(t, err)
	assert.False(t, rep.Complete)
	assert.Equal(t, 1, rep.Inserted)
	assert.False(t, rep.Advanced)

	_, ok, err := store.Watermark(context.Background(), Scope)
	require.NoError(t, err)
	assert.False(t, ok)

	// The stored row survives the failed run.
	_, err = store.GetFill(context.Background(), "T1")
	assert.NoError(t, err)
}

func TestIngestFetchFailureStoresNothing(t *testing.T) {
	store := openStore(t)
	in, _ := newIngester(store, &fakeExchange{err: errors.New("timeout")}, 1700000100000)

	_, err := in.Run(context.Background())
	assert.ErrorContains(t, err, "fetching fills")
}

func TestIngestPersistFailureBacksOffSharedTimestamp(t *testing.T) {
	base := openStore(t)
	ctx := context.Background()
	fills := []okx.Fill{
		buy("C", "O2", "0.02", "50000", "1700000002000"),
		buy("B", "O2", "0.01", "50000", "1700000002000"),
		buy("A", "O1", "0.01", "50000", "1700000001000"),
	}

	in, _ := newIngester(&failingStore{Store: base, failOn: "C"}, &fakeExchange{fills: fills}, 1700000100000)
	rep, err := in.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, rep.Inserted)
	assert.True(t, rep.Advanced)
	// B shares C's timestamp, so the watermark stops at A.
	assert.Equal(t, int64(1700000001000), rep.Watermark)

	// Next run with a healthy store picks C up.
	in, _ = newIngester(base, &fakeExchange{fills: fills}, 1700000200000)
	rep, err = in.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 1, rep.Refreshed)
	assert.Equal(t, int64(1700000002000), rep.Watermark)

	c, err := base.GetFill(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000002000+holding.Milliseconds()), c.SellDeadline)
}

func TestIngestFirstFillFailureKeepsWatermark(t *testing.T) {
	base := openStore(t)
	ex := &fakeExchange{fills: []okx.Fill{buy("A", "O1", "0.01", "50000", "1700000001000")}}
	in, _ := newIngester(&failingStore{Store: base, failOn: "A"}, ex, 1700000100000)

	rep, err := in.Run(context.Background())
	require.Error(t, err)
	assert.False(t, rep.Advanced)

	_, ok, err := base.Watermark(context.Background(), Scope)
	require.NoError(t, err)
	assert.False(t, ok)
}
