package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sameerk/feedrelay/internal/model"
)

// Store wraps the quotes table.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const insertQuote = `
	INSERT INTO quotes (symbol, token, last_traded_price, net_change, percent_change, open, high, low, volume, observed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (symbol, observed_at) DO NOTHING
`

// Append writes one quote record.
func (s *Store) Append(ctx context.Context, rec model.QuoteRecord) error {
	_, err := s.pool.Exec(ctx, insertQuote,
		rec.Symbol, rec.Token, rec.LastTradedPrice, rec.NetChange, rec.PercentChange,
		rec.Open, rec.High, rec.Low, rec.Volume, rec.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

// AppendBatch writes records in one round trip. Returns the number of
// rows skipped as duplicates.
func (s *Store) AppendBatch(ctx context.Context, recs []model.QuoteRecord) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(insertQuote,
			rec.Symbol, rec.Token, rec.LastTradedPrice, rec.NetChange, rec.PercentChange,
			rec.Open, rec.High, rec.Low, rec.Volume, rec.ObservedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range recs {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

// Recent returns the most recent records across all symbols, newest
// first.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.QuoteRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, token, last_traded_price, net_change, percent_change, open, high, low, volume, observed_at
		FROM quotes
		ORDER BY observed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent quotes: %w", err)
	}
	defer rows.Close()
	return scanQuotes(rows)
}

// History returns records for one symbol, newest first.
func (s *Store) History(ctx context.Context, symbol string, limit int) ([]model.QuoteRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, token, last_traded_price, net_change, percent_change, open, high, low, volume, observed_at
		FROM quotes
		WHERE symbol = $1
		ORDER BY observed_at DESC
		LIMIT $2
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query quote history: %w", err)
	}
	defer rows.Close()
	return scanQuotes(rows)
}

// LatestPerSymbol returns the newest record for every symbol.
func (s *Store) LatestPerSymbol(ctx context.Context) ([]model.QuoteRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (symbol)
			symbol, token, last_traded_price, net_change, percent_change, open, high, low, volume, observed_at
		FROM quotes
		ORDER BY symbol, observed_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query latest quotes: %w", err)
	}
	defer rows.Close()
	return scanQuotes(rows)
}

func scanQuotes(rows pgx.Rows) ([]model.QuoteRecord, error) {
	var out []model.QuoteRecord
	for rows.Next() {
		var rec model.QuoteRecord
		if err := rows.Scan(
			&rec.Symbol, &rec.Token, &rec.LastTradedPrice, &rec.NetChange, &rec.PercentChange,
			&rec.Open, &rec.High, &rec.Low, &rec.Volume, &rec.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("scan quote row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
