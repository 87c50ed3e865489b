package model

import "time"

// InstrumentKey uniquely identifies a tradable instrument upstream.
type InstrumentKey struct {
	ExchangeSegment string // "NSE", "NFO"
	Token           string // Raw provider token (e.g. "881")
}

// Instrument maps an upstream instrument to its canonical symbol.
type Instrument struct {
	Key    InstrumentKey
	Symbol string // Canonical ticker (e.g. "RELIANCE")
}

// QuoteRecord is the normalized unit of market data flowing through the
// pipeline: one point-in-time price/volume observation for an instrument.
type QuoteRecord struct {
	Symbol          string    `json:"symbol"`
	Token           string    `json:"token"` // Raw token kept for traceability
	LastTradedPrice float64   `json:"lastTradedPrice"`
	NetChange       float64   `json:"netChange"`
	PercentChange   float64   `json:"percentChange"`
	Open            float64   `json:"open"`
	High            float64   `json:"high"`
	Low             float64   `json:"low"`
	Volume          int64     `json:"volume"`
	ObservedAt      time.Time `json:"observedAt"`
}
