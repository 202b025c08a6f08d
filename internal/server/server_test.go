package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/skalibog/futsig/internal/engine"
	"github.com/skalibog/futsig/pkg/models"
)

type fakeStatus struct {
	st engine.Status
}

func (f fakeStatus) Status() engine.Status { return f.st }

type fakeHistory struct {
	limit int
	err   error
}

func (f *fakeHistory) GetRegimeHistory(_ context.Context, limit int) ([]models.MarketRegime, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []models.MarketRegime{{Trend: models.TrendBullish}}, nil
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec, resp
}

func testStatus() engine.Status {
	return engine.Status{
		Regime:    models.MarketRegime{Trend: models.TrendStrongBearish, Confidence: 95, IsOneSided: true},
		Positions: []models.Position{{Symbol: "BTCUSDT", Side: models.SideSell, PositionAmt: -1}},
		Universe:  40,
	}
}

func TestRegimeEndpoint(t *testing.T) {
	s := New(":0", fakeStatus{testStatus()}, nil, nil)
	rec, resp := get(t, s.Handler(), "/api/regime")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	data, _ := resp.Data.(map[string]interface{})
	if data["trend"] != "strong_bearish" || data["is_one_sided"] != true {
		t.Errorf("regime = %v", resp.Data)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	s := New(":0", fakeStatus{testStatus()}, nil, nil)
	_, resp := get(t, s.Handler(), "/api/positions")
	list, _ := resp.Data.([]interface{})
	if len(list) != 1 {
		t.Fatalf("positions = %v", resp.Data)
	}
	if p := list[0].(map[string]interface{}); p["symbol"] != "BTCUSDT" || p["side"] != "SELL" {
		t.Errorf("position = %v", p)
	}
}

func TestHealthz(t *testing.T) {
	s := New(":0", fakeStatus{testStatus()}, nil, nil)
	rec, resp := get(t, s.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if data := resp.Data.(map[string]interface{}); data["universe"] != 40.0 {
		t.Errorf("health = %v", data)
	}
}

func TestRegimeHistory(t *testing.T) {
	h := &fakeHistory{}
	s := New(":0", fakeStatus{}, h, nil)

	rec, _ := get(t, s.Handler(), "/api/regime/history?limit=5")
	if rec.Code != http.StatusOK || h.limit != 5 {
		t.Fatalf("code=%d limit=%d", rec.Code, h.limit)
	}

	rec, _ = get(t, s.Handler(), "/api/regime/history?limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit code = %d", rec.Code)
	}

	h.err = errors.New("influx down")
	rec, _ = get(t, s.Handler(), "/api/regime/history")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("storage error code = %d", rec.Code)
	}
}

func TestRegimeHistoryUnavailable(t *testing.T) {
	s := New(":0", fakeStatus{}, nil, nil)
	rec, _ := get(t, s.Handler(), "/api/regime/history")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("futsig_up 1\n"))
	})
	s := New(":0", fakeStatus{}, nil, metrics)

	rec, _ := get(t, s.Handler(), "/metrics")
	if !strings.Contains(rec.Body.String(), "futsig_up 1") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
