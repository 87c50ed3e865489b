package smartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const quotePath = "/rest/secure/angelbroking/market/v1/quote/"

// QuoteData is one instrument's full quote as returned by the REST
// market-data endpoint.
type QuoteData struct {
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingSymbol"`
	SymbolToken   string  `json:"symbolToken"`
	LTP           float64 `json:"ltp"`
	NetChange     float64 `json:"netChange"`
	PercentChange float64 `json:"percentChange"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	TradeVolume   int64   `json:"tradeVolume"`
}

type quoteRequest struct {
	Mode           string              `json:"mode"`
	ExchangeTokens map[string][]string `json:"exchangeTokens"`
}

type quoteResponse struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      struct {
		Fetched   []QuoteData `json:"fetched"`
		Unfetched []struct {
			SymbolToken string `json:"symbolToken"`
			Message     string `json:"message"`
		} `json:"unfetched"`
	} `json:"data"`
}

// FetchQuotes retrieves full quotes for the given tokens, keyed by
// exchange segment. Unfetched tokens are logged and skipped. Retries
// transient failures up to the configured limit.
func (c *Client) FetchQuotes(ctx context.Context, exchangeTokens map[string][]string) ([]QuoteData, error) {
	creds, err := c.Tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching quotes: %w", err)
	}

	req := quoteRequest{
		Mode:           "FULL",
		ExchangeTokens: exchangeTokens,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding quote request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryBackoff * time.Duration(attempt)):
			}
		}

		quotes, retryable, err := c.fetchOnce(ctx, payload, creds.SessionToken)
		if err == nil {
			return quotes, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.logger.Warn("quote fetch failed, retrying", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, payload []byte, bearer string) ([]QuoteData, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+quotePath, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("building quote request: %w", err)
	}
	c.setHeaders(httpReq, bearer)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("calling quote endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading quote response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// Session expired; force a fresh login on the next call.
		c.Invalidate()
		return nil, false, fmt.Errorf("quote endpoint returned HTTP 401: %s", truncate(raw, 200))
	case resp.StatusCode != http.StatusOK:
		return nil, resp.StatusCode >= 500, fmt.Errorf("quote endpoint returned HTTP %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var qr quoteResponse
	if err := json.Unmarshal(raw, &qr); err != nil {
		return nil, false, fmt.Errorf("decoding quote response: %w", err)
	}
	if !qr.Status {
		return nil, false, fmt.Errorf("quote request rejected (%s): %s", qr.ErrorCode, qr.Message)
	}

	for _, uf := range qr.Data.Unfetched {
		c.logger.Warn("quote unavailable", "token", uf.SymbolToken, "reason", uf.Message)
	}

	return qr.Data.Fetched, false, nil
}
