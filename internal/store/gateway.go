package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
	"github.com/quotecore/quotecore/internal/metrics"
)

// Gateway exposes the typed store operations. All writes are batch-atomic:
// one transaction per call, rolled back whole on partial failure.
type Gateway struct {
	db      *sqlx.DB
	timeout time.Duration
	log     zerolog.Logger
	met     *metrics.Set
}

// NewGateway wraps an open pool. met may be nil.
func NewGateway(db *sqlx.DB, queryTimeout time.Duration, log zerolog.Logger, met *metrics.Set) *Gateway {
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	return &Gateway{
		db:      db,
		timeout: queryTimeout,
		log:     log.With().Str("component", "store").Logger(),
		met:     met,
	}
}

// EnsureSchema applies the DDL.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := g.db.ExecContext(ctx, Schema); err != nil {
		return g.wrap("ensure schema", err)
	}
	return nil
}

const ohlcvColumns = `symbol, "interval", trade_date, open, high, low, close, pre_close, "change", pct_chg, volume, amount, ma5, ma10, ma20, ma60, data_source`

// UpsertRows writes a batch of OHLCV rows under the (symbol, interval,
// trade_date) key. Rows are sorted ascending by trade_date first so that
// within the batch the latest write wins.
func (g *Gateway) UpsertRows(ctx context.Context, rows []domain.Row) error {
	if len(rows) == 0 {
		return nil
	}
	sorted := make([]domain.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TradeDate.Before(sorted[j].TradeDate)
	})

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return g.wrap("begin upsert_rows", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, g.rebind(`
		INSERT INTO ohlcv_rows (`+ohlcvColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, "interval", trade_date) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, pre_close = EXCLUDED.pre_close,
			"change" = EXCLUDED."change", pct_chg = EXCLUDED.pct_chg,
			volume = EXCLUDED.volume, amount = EXCLUDED.amount,
			ma5 = EXCLUDED.ma5, ma10 = EXCLUDED.ma10,
			ma20 = EXCLUDED.ma20, ma60 = EXCLUDED.ma60,
			data_source = EXCLUDED.data_source`))
	if err != nil {
		return g.wrap("prepare upsert_rows", err)
	}
	defer stmt.Close()

	for _, r := range sorted {
		if _, err := stmt.ExecContext(ctx,
			r.Symbol, r.Interval, r.TradeDate, r.Open, r.High, r.Low, r.Close,
			r.PreClose, r.Change, r.PctChg, r.Volume, r.Amount,
			r.MA5, r.MA10, r.MA20, r.MA60, r.DataSource); err != nil {
			return g.wrap(fmt.Sprintf("upsert row %s/%s", r.Symbol, r.TradeDate.Format("2006-01-02")), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return g.wrap("commit upsert_rows", err)
	}
	if g.met != nil {
		g.met.RowsUpserted.WithLabelValues("ohlcv_rows").Add(float64(len(sorted)))
	}
	return nil
}

// ReadRows returns rows for (symbol, interval) within the optional bounds,
// ordered ascending by trade_date.
func (g *Gateway) ReadRows(ctx context.Context, symbol string, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	query := `SELECT ` + ohlcvColumns + ` FROM ohlcv_rows WHERE symbol = ? AND "interval" = ?`
	args := []any{symbol, interval}
	if !rng.From.IsZero() {
		query += ` AND trade_date >= ?`
		args = append(args, rng.From)
	}
	if !rng.To.IsZero() {
		query += ` AND trade_date <= ?`
		args = append(args, rng.To)
	}
	query += ` ORDER BY trade_date ASC`

	var rows []domain.Row
	if err := g.db.SelectContext(ctx, &rows, g.rebind(query), args...); err != nil {
		return nil, g.wrap("read_rows", err)
	}
	return rows, nil
}

// LatestTradeDate returns the newest stored trade_date for the key, or zero
// when no rows exist.
func (g *Gateway) LatestTradeDate(ctx context.Context, symbol string, interval domain.Interval) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var latest sql.NullTime
	err := g.db.GetContext(ctx, &latest,
		g.rebind(`SELECT MAX(trade_date) FROM ohlcv_rows WHERE symbol = ? AND "interval" = ?`),
		symbol, interval)
	if err != nil {
		return time.Time{}, g.wrap("latest_trade_date", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

// ListSymbols returns canonical symbols for the market, sorted.
func (g *Gateway) ListSymbols(ctx context.Context, market domain.Market) ([]domain.SymbolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var out []domain.SymbolInfo
	err := g.db.SelectContext(ctx, &out,
		g.rebind(`SELECT ts_code, name, market_type, last_updated FROM symbols WHERE market_type = ? ORDER BY ts_code ASC`),
		market)
	if err != nil {
		return nil, g.wrap("list_symbols", err)
	}
	return out, nil
}

// CountSymbols returns the listing count for a market.
func (g *Gateway) CountSymbols(ctx context.Context, market domain.Market) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var n int
	if err := g.db.GetContext(ctx, &n,
		g.rebind(`SELECT COUNT(*) FROM symbols WHERE market_type = ?`), market); err != nil {
		return 0, g.wrap("count_symbols", err)
	}
	return n, nil
}

// OldestSymbolUpdate returns min(last_updated) for the market, zero when the
// market has no listings.
func (g *Gateway) OldestSymbolUpdate(ctx context.Context, market domain.Market) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var oldest sql.NullTime
	err := g.db.GetContext(ctx, &oldest,
		g.rebind(`SELECT MIN(last_updated) FROM symbols WHERE market_type = ?`), market)
	if err != nil {
		return time.Time{}, g.wrap("oldest_symbol_update", err)
	}
	if !oldest.Valid {
		return time.Time{}, nil
	}
	return oldest.Time, nil
}

// UpsertSymbols refreshes the listing set for a market. Conflict key is
// (ts_code, market_type); name and last_updated are updated in place.
func (g *Gateway) UpsertSymbols(ctx context.Context, market domain.Market, listings []domain.SymbolInfo) error {
	if len(listings) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return g.wrap("begin upsert_symbols", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, g.rebind(`
		INSERT INTO symbols (ts_code, name, market_type, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ts_code, market_type) DO UPDATE SET
			name = EXCLUDED.name, last_updated = EXCLUDED.last_updated`))
	if err != nil {
		return g.wrap("prepare upsert_symbols", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, s := range listings {
		if _, err := stmt.ExecContext(ctx, s.Code, s.Name, market, now); err != nil {
			return g.wrap("upsert symbol "+s.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return g.wrap("commit upsert_symbols", err)
	}
	if g.met != nil {
		g.met.RowsUpserted.WithLabelValues("symbols").Add(float64(len(listings)))
	}
	return nil
}

// UpsertFundamentals writes the one-per-symbol snapshot.
func (g *Gateway) UpsertFundamentals(ctx context.Context, snap domain.FundamentalSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.db.ExecContext(ctx, g.rebind(`
		INSERT INTO fundamentals (symbol, market_cap, pe_ratio, pb_ratio, dividend_yield,
			gross_margin, net_margin, revenue_growth, profit_growth, current_ratio,
			debt_to_equity, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET
			market_cap = EXCLUDED.market_cap, pe_ratio = EXCLUDED.pe_ratio,
			pb_ratio = EXCLUDED.pb_ratio, dividend_yield = EXCLUDED.dividend_yield,
			gross_margin = EXCLUDED.gross_margin, net_margin = EXCLUDED.net_margin,
			revenue_growth = EXCLUDED.revenue_growth, profit_growth = EXCLUDED.profit_growth,
			current_ratio = EXCLUDED.current_ratio, debt_to_equity = EXCLUDED.debt_to_equity,
			last_updated = EXCLUDED.last_updated`),
		snap.Symbol, snap.MarketCap, snap.PERatio, snap.PBRatio, snap.DividendYield,
		snap.GrossMargin, snap.NetMargin, snap.RevenueGrowth, snap.ProfitGrowth,
		snap.CurrentRatio, snap.DebtToEquity, snap.LastUpdated)
	if err != nil {
		return g.wrap("upsert_fundamentals", err)
	}
	return nil
}

// GetFundamentals returns the snapshot or nil when absent.
func (g *Gateway) GetFundamentals(ctx context.Context, symbol string) (*domain.FundamentalSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var snap domain.FundamentalSnapshot
	err := g.db.GetContext(ctx, &snap,
		g.rebind(`SELECT symbol, market_cap, pe_ratio, pb_ratio, dividend_yield,
			gross_margin, net_margin, revenue_growth, profit_growth, current_ratio,
			debt_to_equity, last_updated FROM fundamentals WHERE symbol = ?`), symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, g.wrap("get_fundamentals", err)
	}
	return &snap, nil
}

// UpsertCorporateActions writes the batch under its triple key.
func (g *Gateway) UpsertCorporateActions(ctx context.Context, actions []domain.CorporateAction) error {
	if len(actions) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return g.wrap("begin upsert_corporate_actions", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, g.rebind(`
		INSERT INTO corporate_actions (symbol, ex_date, action_type, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (symbol, ex_date, action_type) DO UPDATE SET value = EXCLUDED.value`))
	if err != nil {
		return g.wrap("prepare upsert_corporate_actions", err)
	}
	defer stmt.Close()

	for _, a := range actions {
		if _, err := stmt.ExecContext(ctx, a.Symbol, a.ExDate, a.ActionType, a.Value); err != nil {
			return g.wrap("upsert corporate action "+a.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return g.wrap("commit upsert_corporate_actions", err)
	}
	return nil
}

// GetCorporateActions returns the actions for a symbol, ex_date ascending.
func (g *Gateway) GetCorporateActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var out []domain.CorporateAction
	err := g.db.SelectContext(ctx, &out,
		g.rebind(`SELECT symbol, ex_date, action_type, value FROM corporate_actions
			WHERE symbol = ? ORDER BY ex_date ASC`), symbol)
	if err != nil {
		return nil, g.wrap("get_corporate_actions", err)
	}
	return out, nil
}

// UpsertAnnualEarnings writes the batch under (symbol, year).
func (g *Gateway) UpsertAnnualEarnings(ctx context.Context, earnings []domain.AnnualEarnings) error {
	if len(earnings) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return g.wrap("begin upsert_annual_earnings", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, g.rebind(`
		INSERT INTO annual_earnings (symbol, year, net_profit)
		VALUES (?, ?, ?)
		ON CONFLICT (symbol, year) DO UPDATE SET net_profit = EXCLUDED.net_profit`))
	if err != nil {
		return g.wrap("prepare upsert_annual_earnings", err)
	}
	defer stmt.Close()

	for _, e := range earnings {
		if _, err := stmt.ExecContext(ctx, e.Symbol, e.Year, e.NetProfit); err != nil {
			return g.wrap(fmt.Sprintf("upsert earnings %s/%d", e.Symbol, e.Year), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return g.wrap("commit upsert_annual_earnings", err)
	}
	return nil
}

// GetAnnualEarnings returns earnings for a symbol, year ascending.
func (g *Gateway) GetAnnualEarnings(ctx context.Context, symbol string) ([]domain.AnnualEarnings, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var out []domain.AnnualEarnings
	err := g.db.SelectContext(ctx, &out,
		g.rebind(`SELECT symbol, year, net_profit FROM annual_earnings WHERE symbol = ? ORDER BY year ASC`),
		symbol)
	if err != nil {
		return nil, g.wrap("get_annual_earnings", err)
	}
	return out, nil
}

// UpsertDailyMetrics writes the derived per-day records under
// (code, date, market).
func (g *Gateway) UpsertDailyMetrics(ctx context.Context, rows []domain.DailyMetrics) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return g.wrap("begin upsert_daily_metrics", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, g.rebind(`
		INSERT INTO daily_metrics (code, date, market, close_price, ma5, ma20, volume,
			pe_ratio, pb_ratio, market_cap, dividend_yield, data_source,
			quality_score, validation_status, is_duplicate, duplicate_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, date, market) DO UPDATE SET
			close_price = EXCLUDED.close_price, ma5 = EXCLUDED.ma5, ma20 = EXCLUDED.ma20,
			volume = EXCLUDED.volume, pe_ratio = EXCLUDED.pe_ratio,
			pb_ratio = EXCLUDED.pb_ratio, market_cap = EXCLUDED.market_cap,
			dividend_yield = EXCLUDED.dividend_yield, data_source = EXCLUDED.data_source,
			quality_score = EXCLUDED.quality_score,
			validation_status = EXCLUDED.validation_status,
			is_duplicate = EXCLUDED.is_duplicate,
			duplicate_source = EXCLUDED.duplicate_source`))
	if err != nil {
		return g.wrap("prepare upsert_daily_metrics", err)
	}
	defer stmt.Close()

	for _, m := range rows {
		if _, err := stmt.ExecContext(ctx,
			m.Code, m.Date, m.Market, m.ClosePrice, m.MA5, m.MA20, m.Volume,
			m.PERatio, m.PBRatio, m.MarketCap, m.DividendYield, m.DataSource,
			m.QualityScore, m.ValidationStatus, m.IsDuplicate, m.DuplicateSource); err != nil {
			return g.wrap("upsert daily metrics "+m.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return g.wrap("commit upsert_daily_metrics", err)
	}
	if g.met != nil {
		g.met.RowsUpserted.WithLabelValues("daily_metrics").Add(float64(len(rows)))
	}
	return nil
}

// MarkDuplicates flags suppressed daily_metrics rows instead of deleting
// them: is_duplicate=true and duplicate_source=<kept id>.
func (g *Gateway) MarkDuplicates(ctx context.Context, market domain.Market, date time.Time, suppressed []string, keptID string) error {
	if len(suppressed) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	query, args, err := sqlx.In(`
		UPDATE daily_metrics SET is_duplicate = TRUE, duplicate_source = ?
		WHERE market = ? AND date = ? AND code IN (?)`,
		keptID, market, date, suppressed)
	if err != nil {
		return g.wrap("build mark_duplicates", err)
	}
	if _, err := g.db.ExecContext(ctx, g.rebind(query), args...); err != nil {
		return g.wrap("mark_duplicates", err)
	}
	return nil
}

// Ping verifies connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.db.PingContext(ctx); err != nil {
		return g.wrap("ping", err)
	}
	return nil
}

// Close releases the pool.
func (g *Gateway) Close() error { return g.db.Close() }

func (g *Gateway) rebind(query string) string {
	return g.db.Rebind(query)
}

// wrap classifies driver errors into the store error kinds: constraint
// violations are conflicts, everything else is unavailability.
func (g *Gateway) wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return domain.E(domain.KindStoreConflict, op, err)
	}
	return domain.E(domain.KindStoreUnavailable, op, err)
}
