// Package model defines shared data types used across the feed relay.
//
// Conventions:
//   - Prices: float64 rupees, as delivered by the upstream feed
//   - Timestamps: time.Time in UTC, assigned at normalization time if
//     the upstream omits one
//   - Instrument tokens: raw provider strings, resolved to canonical
//     symbols through the instrument registry
package model
