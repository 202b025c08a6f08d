package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skalibog/futsig/pkg/models"
)

func TestPrecisionCacheTTL(t *testing.T) {
	calls := 0
	load := func(context.Context) (map[string]models.SymbolPrecision, []string, error) {
		calls++
		return map[string]models.SymbolPrecision{
			"BTCUSDT": {Symbol: "BTCUSDT", PricePrecision: 1, TickSize: 0.1},
			"ETHUSDT": {Symbol: "ETHUSDT", PricePrecision: 2, TickSize: 0.01},
		}, []string{"ETHUSDT", "BTCUSDT"}, nil
	}

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewPrecisionCache(load, time.Hour)
	c.now = func() time.Time { return clock }

	ctx := context.Background()
	p, err := c.Get(ctx, "BTCUSDT")
	if err != nil || p.TickSize != 0.1 {
		t.Fatalf("Get = %+v/%v", p, err)
	}
	symbols, _ := c.Symbols(ctx)
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" {
		t.Errorf("symbols = %v, want sorted", symbols)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 within TTL", calls)
	}

	clock = clock.Add(2 * time.Hour)
	if _, err := c.Get(ctx, "ETHUSDT"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want reload after TTL", calls)
	}

	if _, err := c.Get(ctx, "XRPUSDT"); err == nil {
		t.Error("unknown symbol must fail")
	}
}

func TestPrecisionCacheKeepsStaleTable(t *testing.T) {
	fail := false
	load := func(context.Context) (map[string]models.SymbolPrecision, []string, error) {
		if fail {
			return nil, nil, errors.New("503")
		}
		return map[string]models.SymbolPrecision{"BTCUSDT": {PricePrecision: 1}}, []string{"BTCUSDT"}, nil
	}

	clock := time.Now()
	c := NewPrecisionCache(load, time.Minute)
	c.now = func() time.Time { return clock }

	if _, err := c.Get(context.Background(), "BTCUSDT"); err != nil {
		t.Fatal(err)
	}

	fail = true
	clock = clock.Add(time.Hour)
	if _, err := c.Get(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("stale table must be used: %v", err)
	}

	empty := NewPrecisionCache(load, time.Minute)
	if _, err := empty.Get(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("first load failure must be returned")
	}
}

func TestNewClientOrderID(t *testing.T) {
	id := newClientOrderID()
	if len(id) > 36 || id[:3] != clientOrderPrefix {
		t.Fatalf("id = %q", id)
	}
	if id == newClientOrderID() {
		t.Fatal("ids must be unique")
	}
}
