package store

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecore/quotecore/internal/domain"
)

func newMockGateway(t *testing.T) (*Gateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sx := sqlx.NewDb(db, "postgres")
	return NewGateway(sx, 5*time.Second, zerolog.Nop(), nil), mock
}

func sampleRow(symbol string, date time.Time) domain.Row {
	return domain.Row{
		Symbol:    symbol,
		Interval:  domain.IntervalDaily,
		TradeDate: date,
		Open:      10, High: 10.5, Low: 9.8, Close: 10.2,
		PreClose: 10, Change: 0.2, PctChg: 2,
		Volume: 1_000_000, Amount: 10_200_000,
		DataSource: "ashare",
	}
}

func TestUpsertRowsSortsAscending(t *testing.T) {
	g, mock := newMockGateway(t)
	d1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO ohlcv_rows`)
	// Later date passed first; earlier date must be written first.
	prep.ExpectExec().
		WithArgs("000001.SZ", string(domain.IntervalDaily), d1,
			10.0, 10.5, 9.8, 10.2, 10.0, 0.2, 2.0, 1_000_000.0, 10_200_000.0,
			nil, nil, nil, nil, "ashare").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("000001.SZ", string(domain.IntervalDaily), d2,
			10.0, 10.5, 9.8, 10.2, 10.0, 0.2, 2.0, 1_000_000.0, 10_200_000.0,
			nil, nil, nil, nil, "ashare").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := g.UpsertRows(context.Background(), []domain.Row{
		sampleRow("000001.SZ", d2),
		sampleRow("000001.SZ", d1),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRowsEmptyIsNoop(t *testing.T) {
	g, mock := newMockGateway(t)
	require.NoError(t, g.UpsertRows(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRowsConflictClassMapped(t *testing.T) {
	g, mock := newMockGateway(t)
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO ohlcv_rows`)
	prep.ExpectExec().WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := g.UpsertRows(context.Background(), []domain.Row{sampleRow("AAPL", d)})
	require.Error(t, err)
	assert.Equal(t, domain.KindStoreConflict, domain.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRowsConnectivityMapped(t *testing.T) {
	g, mock := newMockGateway(t)
	mock.ExpectBegin().WillReturnError(driver.ErrBadConn)

	err := g.UpsertRows(context.Background(), []domain.Row{sampleRow("AAPL", time.Now())})
	require.Error(t, err)
	assert.Equal(t, domain.KindStoreUnavailable, domain.KindOf(err))
}

func TestReadRowsBoundedAscending(t *testing.T) {
	g, mock := newMockGateway(t)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	cols := []string{"symbol", "interval", "trade_date", "open", "high", "low", "close",
		"pre_close", "change", "pct_chg", "volume", "amount", "ma5", "ma10", "ma20", "ma60", "data_source"}
	mock.ExpectQuery(`SELECT (.+) FROM ohlcv_rows WHERE symbol = \$1 AND "interval" = \$2 AND trade_date >= \$3 AND trade_date <= \$4 ORDER BY trade_date ASC`).
		WithArgs("600519.SH", string(domain.IntervalDaily), from, to).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("600519.SH", "daily", from, 1700.0, 1720.0, 1690.0, 1710.0,
				1695.0, 15.0, 0.88, 30_000.0, 51_300_000.0, nil, nil, nil, nil, "ashare"))

	rows, err := g.ReadRows(context.Background(), "600519.SH", domain.IntervalDaily, domain.DateRange{From: from, To: to})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "600519.SH", rows[0].Symbol)
	assert.Equal(t, 1710.0, rows[0].Close)
	assert.Nil(t, rows[0].MA5)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestTradeDateEmpty(t *testing.T) {
	g, mock := newMockGateway(t)
	mock.ExpectQuery(`SELECT MAX\(trade_date\) FROM ohlcv_rows`).
		WithArgs("AAPL", string(domain.IntervalDaily)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	latest, err := g.LatestTradeDate(context.Background(), "AAPL", domain.IntervalDaily)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())
}

func TestListAndCountSymbols(t *testing.T) {
	g, mock := newMockGateway(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT ts_code, name, market_type, last_updated FROM symbols WHERE market_type = \$1 ORDER BY ts_code ASC`).
		WithArgs(string(domain.MarketAShare)).
		WillReturnRows(sqlmock.NewRows([]string{"ts_code", "name", "market_type", "last_updated"}).
			AddRow("000001.SZ", "PAB", "A_share", now).
			AddRow("600519.SH", "Moutai", "A_share", now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM symbols WHERE market_type = \$1`).
		WithArgs(string(domain.MarketAShare)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	listings, err := g.ListSymbols(context.Background(), domain.MarketAShare)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "000001.SZ", listings[0].Code)

	n, err := g.CountSymbols(context.Background(), domain.MarketAShare)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOldestSymbolUpdateEmptyMarket(t *testing.T) {
	g, mock := newMockGateway(t)
	mock.ExpectQuery(`SELECT MIN\(last_updated\) FROM symbols`).
		WithArgs(string(domain.MarketCrypto)).
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))

	oldest, err := g.OldestSymbolUpdate(context.Background(), domain.MarketCrypto)
	require.NoError(t, err)
	assert.True(t, oldest.IsZero())
}

func TestUpsertSymbolsBatch(t *testing.T) {
	g, mock := newMockGateway(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO symbols`)
	prep.ExpectExec().
		WithArgs("AAPL", "Apple Inc", string(domain.MarketUSStock), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := g.UpsertSymbols(context.Background(), domain.MarketUSStock, []domain.SymbolInfo{
		{Code: "AAPL", Name: "Apple Inc"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFundamentalsAbsent(t *testing.T) {
	g, mock := newMockGateway(t)
	mock.ExpectQuery(`SELECT (.+) FROM fundamentals WHERE symbol = \$1`).
		WithArgs("TSLA").
		WillReturnRows(sqlmock.NewRows([]string{"symbol"}))

	snap, err := g.GetFundamentals(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestMarkDuplicatesExpandsIn(t *testing.T) {
	g, mock := newMockGateway(t)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE daily_metrics SET is_duplicate = TRUE, duplicate_source = \$1`).
		WithArgs("000001.SZ", string(domain.MarketAShare), date, "000001.SZ-dup1", "000001.SZ-dup2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := g.MarkDuplicates(context.Background(), domain.MarketAShare, date,
		[]string{"000001.SZ-dup1", "000001.SZ-dup2"}, "000001.SZ")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
