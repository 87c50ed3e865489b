// Package instrument holds the static instrument registry: the mapping
// from upstream (exchange, token) pairs to canonical symbols. The
// registry is built once at startup and never mutated, so it is safe to
// share across goroutines without locking.
package instrument

import (
	"fmt"
	"sort"

	"github.com/sameerk/feedrelay/internal/config"
	"github.com/sameerk/feedrelay/internal/model"
)

// Registry resolves raw instrument tokens to canonical instruments.
type Registry struct {
	byToken map[string]model.Instrument
}

// NewRegistry builds a registry from the static config table.
func NewRegistry(table []config.InstrumentConfig) (*Registry, error) {
	byToken := make(map[string]model.Instrument, len(table))
	for _, row := range table {
		if _, dup := byToken[row.Token]; dup {
			return nil, fmt.Errorf("duplicate instrument token %q", row.Token)
		}
		byToken[row.Token] = model.Instrument{
			Key: model.InstrumentKey{
				ExchangeSegment: row.Exchange,
				Token:           row.Token,
			},
			Symbol: row.Symbol,
		}
	}
	return &Registry{byToken: byToken}, nil
}

// Resolve returns the instrument for a raw token.
func (r *Registry) Resolve(token string) (model.Instrument, bool) {
	inst, ok := r.byToken[token]
	return inst, ok
}

// All returns every registered instrument, ordered by symbol.
func (r *Registry) All() []model.Instrument {
	out := make([]model.Instrument, 0, len(r.byToken))
	for _, inst := range r.byToken {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TokensByExchange groups registered tokens by exchange segment, the
// shape the upstream subscribe and REST quote requests want.
func (r *Registry) TokensByExchange() map[string][]string {
	grouped := make(map[string][]string)
	for _, inst := range r.byToken {
		seg := inst.Key.ExchangeSegment
		grouped[seg] = append(grouped[seg], inst.Key.Token)
	}
	for _, tokens := range grouped {
		sort.Strings(tokens)
	}
	return grouped
}

// Len returns the number of registered instruments.
func (r *Registry) Len() int {
	return len(r.byToken)
}
