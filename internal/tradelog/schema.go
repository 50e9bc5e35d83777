package tradelog

// The DDL sticks to types both SQLite and PostgreSQL accept. Timestamps are
// epoch milliseconds (BIGINT) and decimals are exact TEXT.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS fills (
	trade_id        TEXT PRIMARY KEY,
	parent_order_id TEXT NOT NULL DEFAULT '',
	instrument      TEXT NOT NULL,
	side            TEXT NOT NULL,
	fill_quantity   TEXT NOT NULL,
	fill_price      TEXT NOT NULL,
	fill_timestamp  BIGINT NOT NULL,
	sell_deadline   BIGINT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'unprocessed',
	fee             TEXT NOT NULL DEFAULT '',
	fee_ccy         TEXT NOT NULL DEFAULT '',
	sell_client_id  TEXT NOT NULL DEFAULT '',
	sell_order_id   TEXT NOT NULL DEFAULT '',
	last_error      TEXT NOT NULL DEFAULT '',
	locked_at       BIGINT NOT NULL DEFAULT 0,
	completed_at    BIGINT NOT NULL DEFAULT 0,
	created_at      BIGINT NOT NULL,
	updated_at      BIGINT NOT NULL,
	CHECK (status IN ('unprocessed', 'locked', 'completed'))
);

CREATE INDEX IF NOT EXISTS idx_fills_due ON fills(status, sell_deadline);
CREATE INDEX IF NOT EXISTS idx_fills_parent ON fills(parent_order_id);
CREATE INDEX IF NOT EXISTS idx_fills_instrument ON fills(instrument);
CREATE INDEX IF NOT EXISTS idx_fills_ts ON fills(fill_timestamp);

CREATE TABLE IF NOT EXISTS watermarks (
	scope      TEXT PRIMARY KEY,
	value      BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
`
