package store

// Schema is the DDL applied at boot. Uniqueness keys are enforced as
// constraints, not just app-side; the partial indexes back screener queries
// over positive pe_ratio and market_cap.
const Schema = `
CREATE TABLE IF NOT EXISTS ohlcv_rows (
    symbol       TEXT             NOT NULL,
    "interval"   TEXT             NOT NULL,
    trade_date   DATE             NOT NULL,
    open         DOUBLE PRECISION NOT NULL,
    high         DOUBLE PRECISION NOT NULL,
    low          DOUBLE PRECISION NOT NULL,
    close        DOUBLE PRECISION NOT NULL,
    pre_close    DOUBLE PRECISION NOT NULL DEFAULT 0,
    "change"     DOUBLE PRECISION NOT NULL DEFAULT 0,
    pct_chg      DOUBLE PRECISION NOT NULL DEFAULT 0,
    volume       DOUBLE PRECISION NOT NULL DEFAULT 0,
    amount       DOUBLE PRECISION NOT NULL DEFAULT 0,
    ma5          DOUBLE PRECISION,
    ma10         DOUBLE PRECISION,
    ma20         DOUBLE PRECISION,
    ma60         DOUBLE PRECISION,
    data_source  TEXT             NOT NULL DEFAULT '',
    PRIMARY KEY (symbol, "interval", trade_date)
);
CREATE INDEX IF NOT EXISTS idx_ohlcv_symbol_interval_date
    ON ohlcv_rows (symbol, "interval", trade_date);

CREATE TABLE IF NOT EXISTS symbols (
    ts_code      TEXT        NOT NULL,
    name         TEXT        NOT NULL DEFAULT '',
    market_type  TEXT        NOT NULL,
    last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (ts_code, market_type)
);

CREATE TABLE IF NOT EXISTS fundamentals (
    symbol          TEXT             PRIMARY KEY,
    market_cap      DOUBLE PRECISION NOT NULL DEFAULT 0,
    pe_ratio        DOUBLE PRECISION NOT NULL DEFAULT 0,
    pb_ratio        DOUBLE PRECISION NOT NULL DEFAULT 0,
    dividend_yield  DOUBLE PRECISION NOT NULL DEFAULT 0,
    gross_margin    DOUBLE PRECISION NOT NULL DEFAULT 0,
    net_margin      DOUBLE PRECISION NOT NULL DEFAULT 0,
    revenue_growth  DOUBLE PRECISION NOT NULL DEFAULT 0,
    profit_growth   DOUBLE PRECISION NOT NULL DEFAULT 0,
    current_ratio   DOUBLE PRECISION NOT NULL DEFAULT 0,
    debt_to_equity  DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_updated    TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS corporate_actions (
    symbol      TEXT             NOT NULL,
    ex_date     DATE             NOT NULL,
    action_type TEXT             NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (symbol, ex_date, action_type)
);

CREATE TABLE IF NOT EXISTS annual_earnings (
    symbol     TEXT             NOT NULL,
    year       INTEGER          NOT NULL,
    net_profit DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (symbol, year)
);

CREATE TABLE IF NOT EXISTS daily_metrics (
    code              TEXT             NOT NULL,
    date              DATE             NOT NULL,
    market            TEXT             NOT NULL,
    close_price       DOUBLE PRECISION NOT NULL DEFAULT 0,
    ma5               DOUBLE PRECISION,
    ma20              DOUBLE PRECISION,
    volume            DOUBLE PRECISION NOT NULL DEFAULT 0,
    pe_ratio          DOUBLE PRECISION NOT NULL DEFAULT 0,
    pb_ratio          DOUBLE PRECISION NOT NULL DEFAULT 0,
    market_cap        DOUBLE PRECISION NOT NULL DEFAULT 0,
    dividend_yield    DOUBLE PRECISION NOT NULL DEFAULT 0,
    data_source       TEXT             NOT NULL DEFAULT '',
    quality_score     DOUBLE PRECISION NOT NULL DEFAULT 1,
    validation_status TEXT             NOT NULL DEFAULT 'pending',
    is_duplicate      BOOLEAN          NOT NULL DEFAULT FALSE,
    duplicate_source  TEXT             NOT NULL DEFAULT '',
    PRIMARY KEY (code, date, market)
);
CREATE INDEX IF NOT EXISTS idx_daily_metrics_pe
    ON daily_metrics (pe_ratio) WHERE pe_ratio > 0;
CREATE INDEX IF NOT EXISTS idx_daily_metrics_mcap
    ON daily_metrics (market_cap) WHERE market_cap > 0;
`
