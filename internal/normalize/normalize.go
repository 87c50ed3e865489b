// Package normalize maps raw upstream payloads onto canonical quote
// records. The upstream is not consistent about field naming across its
// own message variants, so every logical field carries an ordered list
// of candidate names and the first present one wins.
package normalize

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/sameerk/feedrelay/internal/instrument"
	"github.com/sameerk/feedrelay/internal/model"
)

// Field alias tables, in preference order. REST quote payloads use the
// first spellings, stream frames the later ones.
var (
	aliasesLTP           = []string{"ltp", "last_traded_price", "lastTradedPrice"}
	aliasesNetChange     = []string{"netChange", "change", "net_change"}
	aliasesPercentChange = []string{"percentChange", "changePercent", "change_percent"}
	aliasesOpen          = []string{"open", "open_price"}
	aliasesHigh          = []string{"high", "high_price"}
	aliasesLow           = []string{"low", "low_price"}
	aliasesVolume        = []string{"tradeVolume", "volume", "volume_traded"}
	aliasesTimestamp     = []string{"exchange_timestamp", "exchangeTimestamp", "timestamp"}
)

// Normalizer turns raw data frames into QuoteRecords.
type Normalizer struct {
	registry *instrument.Registry
	logger   *slog.Logger
}

// New creates a Normalizer backed by the given registry.
func New(registry *instrument.Registry, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{registry: registry, logger: logger}
}

// Normalize parses one data-shaped payload. It returns false when the
// payload is malformed, carries no token, or the token is not in the
// registry; those frames are logged and dropped, never an error.
func (n *Normalizer) Normalize(data []byte, receivedAt time.Time) (model.QuoteRecord, bool) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		n.logger.Warn("malformed payload dropped", "error", err, "bytes", len(data))
		return model.QuoteRecord{}, false
	}

	token := stringField(fields, "token")
	if token == "" {
		n.logger.Warn("payload without token dropped")
		return model.QuoteRecord{}, false
	}

	inst, ok := n.registry.Resolve(token)
	if !ok {
		n.logger.Warn("unknown instrument token dropped", "token", token)
		return model.QuoteRecord{}, false
	}

	observedAt := receivedAt
	if ts := numberField(fields, aliasesTimestamp); ts > 0 {
		observedAt = time.UnixMilli(int64(ts)).UTC()
	}
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	return model.QuoteRecord{
		Symbol:          inst.Symbol,
		Token:           token,
		LastTradedPrice: numberField(fields, aliasesLTP),
		NetChange:       numberField(fields, aliasesNetChange),
		PercentChange:   numberField(fields, aliasesPercentChange),
		Open:            numberField(fields, aliasesOpen),
		High:            numberField(fields, aliasesHigh),
		Low:             numberField(fields, aliasesLow),
		Volume:          int64(numberField(fields, aliasesVolume)),
		ObservedAt:      observedAt,
	}, true
}

// numberField resolves the first present alias to a float64, defaulting
// to 0. Accepts JSON numbers and numeric strings; anything else counts
// as absent.
func numberField(fields map[string]any, aliases []string) float64 {
	for _, name := range aliases {
		v, present := fields[name]
		if !present {
			continue
		}
		switch val := v.(type) {
		case float64:
			return val
		case string:
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

// stringField reads a field that may arrive as a string or a number.
func stringField(fields map[string]any, name string) string {
	switch val := fields[name].(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	default:
		return ""
	}
}
