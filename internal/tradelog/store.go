package tradelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("fill not found")

type Store struct {
	db       *sql.DB
	postgres bool
}

// Open connects to PostgreSQL when dsn is a postgres:// URL and to a SQLite
// file otherwise, then applies the schema.
func Open(dsn string) (*Store, error) {
	if isPostgres(dsn) {
		return openPostgres(dsn)
	}
	return openSQLite(dsn)
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func openSQLite(path string) (*Store, error) {
	file, _, _ := strings.Cut(strings.TrimPrefix(path, "file:"), "?")
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	// busy_timeout has to be set per connection, so it goes in the DSN.
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &Store{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(10000)"
}

func openPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}
	return &Store{db: db, postgres: true}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertFill inserts a new fill as unprocessed. For a trade id that already
// exists only the fee display fields are refreshed, and only while the row is
// still unprocessed; status and sell_deadline are never rewritten.
func (s *Store) UpsertFill(ctx context.Context, f *Fill, now int64) (UpsertResult, error) {
	n, err := s.exec(ctx, `
		INSERT INTO fills (trade_id, parent_order_id, instrument, side, fill_quantity,
			fill_price, fill_timestamp, sell_deadline, status, fee, fee_ccy,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO NOTHING`,
		f.TradeID, f.ParentOrderID, f.Instrument, f.Side, f.FillQuantity,
		f.FillPrice, f.FillTimestamp, f.SellDeadline, string(StatusUnprocessed),
		f.Fee, f.FeeCcy, now, now,
	)
	if err != nil {
		return Unchanged, fmt.Errorf("inserting fill %s: %w", f.TradeID, err)
	}
	if n == 1 {
		return Inserted, nil
	}

	n, err = s.exec(ctx, `
		UPDATE fills SET fee = ?, fee_ccy = ?, updated_at = ?
		WHERE trade_id = ? AND status = ?`,
		f.Fee, f.FeeCcy, now, f.TradeID, string(StatusUnprocessed),
	)
	if err != nil {
		return Unchanged, fmt.Errorf("refreshing fill %s: %w", f.TradeID, err)
	}
	if n == 1 {
		return Refreshed, nil
	}
	return Unchanged, nil
}

// Lock claims a fill for liquidation. It returns false when the row is no
// longer unprocessed, which means another invocation got there first.
func (s *Store) Lock(ctx context.Context, tradeID, clientID string, now int64) (bool, error) {
	n, err := s.exec(ctx, `
		UPDATE fills SET status = ?, sell_client_id = ?, locked_at = ?, updated_at = ?
		WHERE trade_id = ? AND status = ?`,
		string(StatusLocked), clientID, now, now, tradeID, string(StatusUnprocessed),
	)
	if err != nil {
		return false, fmt.Errorf("locking fill %s: %w", tradeID, err)
	}
	return n == 1, nil
}

// Complete marks a locked fill as sold.
func (s *Store) Complete(ctx context.Context, tradeID, sellOrderID string, now int64) (bool, error) {
	n, err := s.exec(ctx, `
		UPDATE fills SET status = ?, sell_order_id = ?, last_error = '', completed_at = ?, updated_at = ?
		WHERE trade_id = ? AND status = ?`,
		string(StatusCompleted), sellOrderID, now, now, tradeID, string(StatusLocked),
	)
	if err != nil {
		return false, fmt.Errorf("completing fill %s: %w", tradeID, err)
	}
	return n == 1, nil
}

// RecordError keeps the last sell failure on a locked row for reconciliation.
func (s *Store) RecordError(ctx context.Context, tradeID, msg string, now int64) error {
	_, err := s.exec(ctx, `
		UPDATE fills SET last_error = ?, updated_at = ?
		WHERE trade_id = ? AND status = ?`,
		msg, now, tradeID, string(StatusLocked),
	)
	if err != nil {
		return fmt.Errorf("recording error on fill %s: %w", tradeID, err)
	}
	return nil
}

const fillColumns = `trade_id, parent_order_id, instrument, side, fill_quantity, fill_price,
	fill_timestamp, sell_deadline, status, fee, fee_ccy, sell_client_id, sell_order_id,
	last_error, locked_at, completed_at, created_at, updated_at`

func (s *Store) GetFill(ctx context.Context, tradeID string) (*Fill, error) {
	fills, err := s.queryFills(ctx, `SELECT `+fillColumns+` FROM fills WHERE trade_id = ?`, tradeID)
	if err != nil {
		return nil, err
	}
	if len(fills) == 0 {
		return nil, ErrNotFound
	}
	return &fills[0], nil
}

// DueFills returns unprocessed fills whose sell deadline is at or before now.
func (s *Store) DueFills(ctx context.Context, now int64) ([]Fill, error) {
	return s.queryFills(ctx, `
		SELECT `+fillColumns+` FROM fills
		WHERE status = ? AND sell_deadline <= ?
		ORDER BY sell_deadline`,
		string(StatusUnprocessed), now)
}

// LockedFills returns rows locked at or before lockedBefore.
func (s *Store) LockedFills(ctx context.Context, lockedBefore int64) ([]Fill, error) {
	return s.queryFills(ctx, `
		SELECT `+fillColumns+` FROM fills
		WHERE status = ? AND locked_at <= ?
		ORDER BY locked_at`,
		string(StatusLocked), lockedBefore)
}

func (s *Store) RecentFills(ctx context.Context, limit int) ([]Fill, error) {
	return s.queryFills(ctx, `
		SELECT `+fillColumns+` FROM fills
		ORDER BY fill_timestamp DESC LIMIT ?`, limit)
}

func (s *Store) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM fills GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []StatusCount
	for rows.Next() {
		var c StatusCount
		var status string
		if err := rows.Scan(&status, &c.Count); err != nil {
			return nil, err
		}
		c.Status = Status(status)
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *Store) queryFills(ctx context.Context, query string, args ...any) ([]Fill, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Fill
	for rows.Next() {
		var f Fill
		var status string
		if err := rows.Scan(&f.TradeID, &f.ParentOrderID, &f.Instrument, &f.Side,
			&f.FillQuantity, &f.FillPrice, &f.FillTimestamp, &f.SellDeadline, &status,
			&f.Fee, &f.FeeCcy, &f.SellClientID, &f.SellOrderID, &f.LastError,
			&f.LockedAt, &f.CompletedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Status = Status(status)
		results = append(results, f)
	}
	return results, rows.Err()
}

// Watermark returns the persisted value for scope; ok is false if none exists yet.
func (s *Store) Watermark(ctx context.Context, scope string) (value int64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM watermarks WHERE scope = ?`), scope)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return value, true, nil
}

// AdvanceWatermark moves the watermark forward in one guarded write. A value
// at or below the stored one is ignored and reported as false.
func (s *Store) AdvanceWatermark(ctx context.Context, scope string, value, now int64) (bool, error) {
	n, err := s.exec(ctx, `
		INSERT INTO watermarks (scope, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		WHERE excluded.value > watermarks.value`,
		scope, value, now,
	)
	if err != nil {
		return false, fmt.Errorf("advancing watermark %s: %w", scope, err)
	}
	return n == 1, nil
}
