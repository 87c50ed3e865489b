package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sameerk/feedrelay/internal/hub"
	"github.com/sameerk/feedrelay/internal/model"
)

// fakeReader serves canned quote history.
type fakeReader struct {
	recent  []model.QuoteRecord
	history map[string][]model.QuoteRecord
	latest  []model.QuoteRecord
	pingErr error
}

func (f *fakeReader) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeReader) Recent(ctx context.Context, limit int) ([]model.QuoteRecord, error) {
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeReader) History(ctx context.Context, symbol string, limit int) ([]model.QuoteRecord, error) {
	return f.history[symbol], nil
}

func (f *fakeReader) LatestPerSymbol(ctx context.Context) ([]model.QuoteRecord, error) {
	return f.latest, nil
}

func quote(symbol string, ltp float64) model.QuoteRecord {
	return model.QuoteRecord{
		Symbol:          symbol,
		Token:           "1",
		LastTradedPrice: ltp,
		ObservedAt:      time.Now().UTC(),
	}
}

func testServer(reader *fakeReader, h *hub.Hub) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(reader, h, StatsSources{Hub: h}, logger)
}

func getJSON(t *testing.T, handler http.Handler, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response to %s is not JSON: %v", path, err)
	}
	return rr.Code, body
}

func TestHandleRecent(t *testing.T) {
	reader := &fakeReader{
		recent: []model.QuoteRecord{quote("SBIN", 601), quote("RELIANCE", 2500)},
	}
	srv := testServer(reader, hub.New(16, nil))

	code, body := getJSON(t, srv.Handler(), "/api/market-data")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	data := body["data"].([]any)
	if len(data) != 2 {
		t.Errorf("len(data) = %d, want 2", len(data))
	}
}

func TestHandleRecent_LimitQuery(t *testing.T) {
	reader := &fakeReader{
		recent: []model.QuoteRecord{quote("A", 1), quote("B", 2), quote("C", 3)},
	}
	srv := testServer(reader, hub.New(16, nil))

	code, body := getJSON(t, srv.Handler(), "/api/market-data?limit=2")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if data := body["data"].([]any); len(data) != 2 {
		t.Errorf("len(data) = %d, want 2 with limit=2", len(data))
	}
}

func TestHandleHistory(t *testing.T) {
	reader := &fakeReader{
		history: map[string][]model.QuoteRecord{
			"SBIN": {quote("SBIN", 601), quote("SBIN", 600)},
		},
	}
	srv := testServer(reader, hub.New(16, nil))

	code, body := getJSON(t, srv.Handler(), "/api/market-data/SBIN")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	data := body["data"].([]any)
	if len(data) != 2 {
		t.Errorf("len(data) = %d, want 2", len(data))
	}

	code, body = getJSON(t, srv.Handler(), "/api/market-data/UNKNOWN")
	if code != http.StatusNotFound {
		t.Fatalf("status for unknown symbol = %d, want 404", code)
	}
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
}

func TestHandleLatest_PrefersHubCache(t *testing.T) {
	reader := &fakeReader{
		latest: []model.QuoteRecord{quote("STALE", 1)},
	}
	h := hub.New(16, nil)
	h.Publish(quote("SBIN", 601))

	srv := testServer(reader, h)

	code, body := getJSON(t, srv.Handler(), "/api/latest-prices")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	data := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("len(data) = %d, want 1", len(data))
	}
	rec := data[0].(map[string]any)
	if rec["symbol"] != "SBIN" {
		t.Errorf("symbol = %v, want SBIN from the live cache", rec["symbol"])
	}
}

func TestHandleLatest_FallsBackToStore(t *testing.T) {
	reader := &fakeReader{
		latest: []model.QuoteRecord{quote("SBIN", 599)},
	}
	srv := testServer(reader, hub.New(16, nil))

	code, body := getJSON(t, srv.Handler(), "/api/latest-prices")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	data := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("len(data) = %d, want 1 from the store fallback", len(data))
	}
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(&fakeReader{}, hub.New(16, nil))

	code, body := getJSON(t, srv.Handler(), "/health")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}

	srv = testServer(&fakeReader{pingErr: errors.New("down")}, hub.New(16, nil))
	code, body = getJSON(t, srv.Handler(), "/health")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

func TestHandleStats(t *testing.T) {
	h := hub.New(16, nil)
	h.Publish(quote("SBIN", 601))
	srv := testServer(&fakeReader{}, h)

	code, body := getJSON(t, srv.Handler(), "/debug/stats")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if _, ok := body["hub"]; !ok {
		t.Error("stats missing hub section")
	}
}
