package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Topic is a validated subscription identifier. Two grammars are accepted:
//
//	<type>.<symbol>.<interval>   type in {stock, crypto, futures, options, commodity}
//	market.<market>.summary
type Topic string

// TopicInterval enumerates the streaming bar sizes a topic may carry. These are
// the wire-level interval tokens, distinct from the storage Interval enum.
var topicIntervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

var topicTypes = map[string]bool{
	"stock":     true,
	"crypto":    true,
	"futures":   true,
	"options":   true,
	"commodity": true,
}

var marketSummaryRe = regexp.MustCompile(`^market\.[A-Za-z_]+\.summary$`)

// ParseTopic validates raw against the topic grammar. Symbol case is preserved;
// the interval token is case-sensitive (1m vs 1M).
func ParseTopic(raw string) (Topic, error) {
	if marketSummaryRe.MatchString(raw) {
		return Topic(raw), nil
	}

	parts := strings.Split(raw, ".")
	// A-share symbols embed a dot ("000001.SZ"), so a symbol topic has 3 or 4 parts.
	if len(parts) < 3 || len(parts) > 4 {
		return "", E(KindInputInvalid, fmt.Sprintf("malformed topic %q", raw))
	}
	if !topicTypes[parts[0]] {
		return "", E(KindInputInvalid, fmt.Sprintf("unknown topic type %q", parts[0]))
	}
	interval := parts[len(parts)-1]
	if _, ok := topicIntervals[interval]; !ok {
		return "", E(KindInputInvalid, fmt.Sprintf("unknown topic interval %q", interval))
	}
	symbol := strings.Join(parts[1:len(parts)-1], ".")
	if symbol == "" {
		return "", E(KindInputInvalid, fmt.Sprintf("empty symbol in topic %q", raw))
	}
	return Topic(raw), nil
}

// IsSummary reports whether the topic is a market summary subscription.
func (t Topic) IsSummary() bool { return marketSummaryRe.MatchString(string(t)) }

// Symbol returns the symbol component of a quote topic, or the market name for
// summary topics.
func (t Topic) Symbol() string {
	parts := strings.Split(string(t), ".")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[1:len(parts)-1], ".")
}

// IntervalToken returns the wire interval token ("1m", "1d", ...) or "summary".
func (t Topic) IntervalToken() string {
	if t.IsSummary() {
		return "summary"
	}
	parts := strings.Split(string(t), ".")
	return parts[len(parts)-1]
}

// Tick returns the polling cadence for the topic. Summary topics tick every
// five minutes; quote topics tick at their interval, floored at one minute.
func (t Topic) Tick() time.Duration {
	if t.IsSummary() {
		return 5 * time.Minute
	}
	if d, ok := topicIntervals[t.IntervalToken()]; ok {
		if d < time.Minute {
			return time.Minute
		}
		return d
	}
	return time.Minute
}

// StorageInterval maps the wire interval token onto the storage interval used
// when polling the coordinator for this topic.
func (t Topic) StorageInterval() Interval {
	switch t.IntervalToken() {
	case "1d":
		return IntervalDaily
	case "1w":
		return IntervalWeekly
	case "1M":
		return IntervalMonthly
	default:
		return IntervalMinute
	}
}
