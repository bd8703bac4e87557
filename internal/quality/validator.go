// Package quality implements the data-quality stage: per-row validation and
// batch deduplication. The stage never mutates rows and never fails the
// ingest pipeline; it annotates, scores and reports, and downstream decides
// what to keep.
package quality

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
)

// ValidatorConfig bounds the range rules. Zero values fall back to defaults.
type ValidatorConfig struct {
	MinPrice       float64 `yaml:"min_price"`
	MaxPrice       float64 `yaml:"max_price"`
	AsharePctLimit float64 `yaml:"ashare_pct_limit"`
	OtherPctLimit  float64 `yaml:"other_pct_limit"`
}

// DefaultValidatorConfig returns the serving defaults: price band
// [0.01, 10000], pct_chg ceiling 20 for A-share (covers ChiNext/STAR) and 50
// elsewhere.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinPrice:       0.01,
		MaxPrice:       10_000,
		AsharePctLimit: 20,
		OtherPctLimit:  50,
	}
}

// ValidationReport is the per-row outcome. A row is valid iff Errors is empty.
type ValidationReport struct {
	RowKey       domain.RowKey `json:"row_key"`
	Errors       []string      `json:"errors,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	QualityScore float64       `json:"quality_score"`
}

// Valid reports whether the row passed every hard rule.
func (r ValidationReport) Valid() bool { return len(r.Errors) == 0 }

// Validator applies the range and schema rules.
type Validator struct {
	cfg ValidatorConfig
	log zerolog.Logger
}

// NewValidator builds a validator; zero-value config fields get defaults.
func NewValidator(cfg ValidatorConfig, log zerolog.Logger) *Validator {
	def := DefaultValidatorConfig()
	if cfg.MinPrice <= 0 {
		cfg.MinPrice = def.MinPrice
	}
	if cfg.MaxPrice <= 0 {
		cfg.MaxPrice = def.MaxPrice
	}
	if cfg.AsharePctLimit <= 0 {
		cfg.AsharePctLimit = def.AsharePctLimit
	}
	if cfg.OtherPctLimit <= 0 {
		cfg.OtherPctLimit = def.OtherPctLimit
	}
	return &Validator{cfg: cfg, log: log.With().Str("component", "quality").Logger()}
}

var symbolPatterns = map[domain.Market]*regexp.Regexp{
	domain.MarketAShare:  regexp.MustCompile(`^\d{6}\.(SH|SZ|BJ)$`),
	domain.MarketHKStock: regexp.MustCompile(`^\d{5}\.HK$`),
	domain.MarketUSStock: regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`),
	domain.MarketFutures: regexp.MustCompile(`^[A-Z]{1,2}\d{3,4}$`),
	domain.MarketCrypto:  regexp.MustCompile(`^[A-Z0-9/\-]{3,15}$`),
}

// ValidateRows scores each row. Identical input produces identical reports.
func (v *Validator) ValidateRows(rows []domain.Row) []ValidationReport {
	reports := make([]ValidationReport, len(rows))
	for i, row := range rows {
		reports[i] = v.validateRow(row)
	}
	return reports
}

func (v *Validator) validateRow(row domain.Row) ValidationReport {
	rep := ValidationReport{RowKey: row.Key()}

	if row.Symbol == "" {
		rep.Errors = append(rep.Errors, "missing symbol")
	} else if re, ok := symbolPatterns[domain.ClassifyMarket(row.Symbol)]; ok && !re.MatchString(row.Symbol) {
		rep.Errors = append(rep.Errors, fmt.Sprintf("symbol %q does not match market pattern", row.Symbol))
	}

	if !row.Interval.Valid() {
		rep.Errors = append(rep.Errors, fmt.Sprintf("unknown interval %q", row.Interval))
	}

	if row.TradeDate.IsZero() {
		rep.Errors = append(rep.Errors, "missing trade_date")
	} else if row.TradeDate.After(time.Now().UTC().AddDate(0, 0, 1)) {
		rep.Warnings = append(rep.Warnings, "trade_date in the future")
	}

	for _, pv := range []struct {
		name  string
		value float64
	}{
		{"open", row.Open}, {"high", row.High}, {"low", row.Low}, {"close", row.Close},
	} {
		switch {
		case math.IsNaN(pv.value) || math.IsInf(pv.value, 0):
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s is not finite", pv.name))
		case pv.value < v.cfg.MinPrice || pv.value > v.cfg.MaxPrice:
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s %.4f outside [%.2f, %.2f]", pv.name, pv.value, v.cfg.MinPrice, v.cfg.MaxPrice))
		}
	}

	if row.Low > math.Min(row.Open, row.Close) || row.High < math.Max(row.Open, row.Close) {
		rep.Errors = append(rep.Errors, "OHLC ordering violated: low <= open,close <= high")
	}

	if row.Volume < 0 {
		rep.Errors = append(rep.Errors, fmt.Sprintf("negative volume %.2f", row.Volume))
	}

	if limit := v.pctLimit(row.Symbol); math.Abs(row.PctChg) > limit {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("pct_chg %.2f exceeds limit %.1f", row.PctChg, limit))
	}

	if row.PreClose > 0 {
		want := (row.Close - row.PreClose) / row.PreClose * 100
		if math.Abs(row.PctChg-want) > 1e-6 {
			rep.Warnings = append(rep.Warnings, "pct_chg inconsistent with pre_close")
		}
	}

	rep.QualityScore = Score(len(rep.Errors), len(rep.Warnings))
	return rep
}

func (v *Validator) pctLimit(symbol string) float64 {
	if domain.ClassifyMarket(symbol) == domain.MarketAShare {
		return v.cfg.AsharePctLimit
	}
	return v.cfg.OtherPctLimit
}

// Score computes the deterministic quality grade:
// max(0, 1 - 0.2*errors - 0.1*warnings).
func Score(errors, warnings int) float64 {
	s := 1 - 0.2*float64(errors) - 0.1*float64(warnings)
	if s < 0 {
		return 0
	}
	return s
}

// StatusFor maps a report to the stored validation status. Invalid rows are
// still written (backfills stay observable) but carry the failed status.
func StatusFor(rep ValidationReport) domain.ValidationStatus {
	if rep.Valid() {
		return domain.ValidationValidated
	}
	return domain.ValidationFailed
}
