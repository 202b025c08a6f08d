package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/internal/ledger"
	"github.com/skalibog/futsig/pkg/models"
)

type order struct {
	kind   string
	symbol string
	side   models.Side
	value  float64
}

type fakeExchange struct {
	mu        sync.Mutex
	klines    map[string][]*models.Candle
	klineErr  map[string]error
	prices    map[string]float64
	changes   []models.PriceChange
	positions []models.ExchangePosition
	balance   float64
	marketErr error
	tpFails   int
	orders    []order
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		klines:   map[string][]*models.Candle{},
		klineErr: map[string]error{},
		prices:   map[string]float64{},
		balance:  1000,
	}
}

func (f *fakeExchange) GetKlines(_ context.Context, symbol, _ string, _ int) ([]*models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.klineErr[symbol]; err != nil {
		return nil, err
	}
	return f.klines[symbol], nil
}

func (f *fakeExchange) GetPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func (f *fakeExchange) Precision(_ context.Context, symbol string) (models.SymbolPrecision, error) {
	return models.SymbolPrecision{Symbol: symbol, PricePrecision: 2, QuantityPrecision: 3, TickSize: 0.01, StepSize: 0.001}, nil
}

func (f *fakeExchange) GetPriceChanges(context.Context, []string) ([]models.PriceChange, error) {
	return f.changes, nil
}

func (f *fakeExchange) GetPositions(context.Context) ([]models.ExchangePosition, error) {
	return f.positions, nil
}

func (f *fakeExchange) GetAvailableBalance(context.Context) (float64, error) {
	return f.balance, nil
}

func (f *fakeExchange) GetSymbols(context.Context) ([]string, error) {
	return []string{"AUSDT", "BUSDT"}, nil
}

func (f *fakeExchange) record(o order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
}

func (f *fakeExchange) MarketOrder(_ context.Context, symbol string, side models.Side, qty float64) error {
	if f.marketErr != nil {
		return f.marketErr
	}
	f.record(order{"MARKET", symbol, side, qty})
	return nil
}

func (f *fakeExchange) CloseMarket(_ context.Context, symbol string, side models.Side, qty float64) error {
	if f.marketErr != nil {
		return f.marketErr
	}
	f.record(order{"CLOSE_MARKET", symbol, side, qty})
	return nil
}

func (f *fakeExchange) StopMarket(_ context.Context, symbol string, side models.Side, stop float64) error {
	f.record(order{"STOP_MARKET", symbol, side, stop})
	return nil
}

func (f *fakeExchange) TakeProfitMarket(_ context.Context, symbol string, side models.Side, stop float64) error {
	f.mu.Lock()
	if f.tpFails > 0 {
		f.tpFails--
		f.mu.Unlock()
		return errors.New("order would immediately trigger")
	}
	f.mu.Unlock()
	f.record(order{"TAKE_PROFIT_MARKET", symbol, side, stop})
	return nil
}

func (f *fakeExchange) ordersOf(kind string) []order {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []order
	for _, o := range f.orders {
		if o.kind == kind {
			out = append(out, o)
		}
	}
	return out
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

func flat(n int, price float64) []*models.Candle {
	candles := make([]*models.Candle, n)
	for i := range candles {
		candles[i] = &models.Candle{Open: price, High: price * 1.001, Low: price * 0.999, Close: price, Volume: 10}
	}
	return candles
}

func trend(n int, start, step float64) []*models.Candle {
	candles := make([]*models.Candle, n)
	for i := range candles {
		c := start + float64(i)*step
		candles[i] = &models.Candle{Open: c - step, High: c + 0.2, Low: c - 0.2, Close: c, Volume: 10}
	}
	return candles
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Trading.Symbols = []string{"AUSDT"}
	cfg.Trading.EntryEnabled = false
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, ex *fakeExchange) (*Engine, *ledger.Ledger, *fakeNotifier) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore())
	n := &fakeNotifier{}
	e := New(cfg, Deps{Exchange: ex, Ledger: l, Notifier: n})
	return e, l, n
}

func TestCycleClosesLosingPosition(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["AUSDT"] = flat(100, 95)
	ex.prices["AUSDT"] = 95
	ex.positions = []models.ExchangePosition{{Symbol: "AUSDT", PositionAmt: 1, EntryPrice: 100, UpdateTime: time.Now()}}

	e, l, n := newTestEngine(t, testConfig(t), ex)
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	closes := ex.ordersOf("CLOSE_MARKET")
	if len(closes) != 1 || closes[0].side != models.SideSell || closes[0].value != 1 {
		t.Fatalf("close orders = %+v, want one reduce-only SELL 1", closes)
	}
	if market := ex.ordersOf("MARKET"); len(market) != 0 {
		t.Errorf("close must not use a plain market order: %+v", market)
	}
	if l.Len() != 0 {
		t.Errorf("ledger len = %d, want 0 after close", l.Len())
	}
	if len(n.messages) == 0 {
		t.Error("expected exit notification")
	}
}

func TestCycleSubmitFailureKeepsPosition(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["AUSDT"] = flat(100, 95)
	ex.prices["AUSDT"] = 95
	ex.positions = []models.ExchangePosition{{Symbol: "AUSDT", PositionAmt: -2, EntryPrice: 90}}
	ex.marketErr = errors.New("insufficient margin")

	e, l, _ := newTestEngine(t, testConfig(t), ex)
	_ = e.RunCycle(context.Background())

	pos, ok := l.Get("AUSDT")
	if !ok {
		t.Fatal("position must stay in ledger after failed close")
	}
	if pos.Side != models.SideSell {
		t.Errorf("side = %s, want SELL", pos.Side)
	}
}

func TestCycleProtectsNewPosition(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["AUSDT"] = trend(100, 100, 0.01)
	ex.prices["AUSDT"] = 101
	ex.positions = []models.ExchangePosition{{Symbol: "AUSDT", PositionAmt: 1, EntryPrice: 100.5}}

	cfg := testConfig(t)
	cfg.Exit.StopLossRate = 0.5
	cfg.Exit.VolatilityThreshold = 1e-6
	cfg.Sideways.Enabled = false
	e, l, _ := newTestEngine(t, cfg, ex)
	_ = e.RunCycle(context.Background())

	stops := ex.ordersOf("STOP_MARKET")
	tps := ex.ordersOf("TAKE_PROFIT_MARKET")
	if len(stops) != 1 || len(tps) != 1 {
		t.Fatalf("stops=%v tps=%v, want one of each", stops, tps)
	}
	if stops[0].side != models.SideSell || tps[0].side != models.SideSell {
		t.Errorf("protection must close the long: %+v %+v", stops[0], tps[0])
	}
	if !(stops[0].value < 100.5 && 100.5 < tps[0].value) {
		t.Errorf("sl=%v tp=%v must bracket entry", stops[0].value, tps[0].value)
	}

	pos, ok := l.Get("AUSDT")
	if !ok || !pos.Protected || pos.StopLoss != stops[0].value {
		t.Fatalf("ledger not updated: %+v", pos)
	}

	// повторный цикл не дублирует защиту
	_ = e.RunCycle(context.Background())
	if got := len(ex.ordersOf("STOP_MARKET")); got != 1 {
		t.Errorf("stop orders = %d, protected position must not be protected twice", got)
	}
}

func TestCycleRetriesOnlyMissingTakeProfit(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["AUSDT"] = trend(100, 100, 0.01)
	ex.prices["AUSDT"] = 101
	ex.positions = []models.ExchangePosition{{Symbol: "AUSDT", PositionAmt: 1, EntryPrice: 100.5}}
	ex.tpFails = 1

	cfg := testConfig(t)
	cfg.Exit.StopLossRate = 0.5
	cfg.Exit.VolatilityThreshold = 1e-6
	cfg.Sideways.Enabled = false
	e, l, _ := newTestEngine(t, cfg, ex)

	_ = e.RunCycle(context.Background())
	pos, ok := l.Get("AUSDT")
	if !ok || pos.Protected || pos.StopLoss == 0 {
		t.Fatalf("after failed take-profit: %+v, want stop recorded and not protected", pos)
	}

	_ = e.RunCycle(context.Background())
	if got := len(ex.ordersOf("STOP_MARKET")); got != 1 {
		t.Errorf("stop orders = %d, want 1", got)
	}
	if got := len(ex.ordersOf("TAKE_PROFIT_MARKET")); got != 1 {
		t.Errorf("take-profit orders = %d, want 1", got)
	}
	if pos, _ := l.Get("AUSDT"); !pos.Protected || pos.TakeProfit == 0 {
		t.Errorf("position = %+v, want protected", pos)
	}
}

func TestCycleIsolatesSymbolFailures(t *testing.T) {
	ex := newFakeExchange()
	ex.klineErr["AUSDT"] = errors.New("timeout")
	ex.klines["BUSDT"] = flat(100, 45)
	ex.prices["BUSDT"] = 45
	ex.positions = []models.ExchangePosition{
		{Symbol: "AUSDT", PositionAmt: 1, EntryPrice: 100},
		{Symbol: "BUSDT", PositionAmt: 1, EntryPrice: 50},
	}

	e, l, _ := newTestEngine(t, testConfig(t), ex)
	_ = e.RunCycle(context.Background())

	closes := ex.ordersOf("CLOSE_MARKET")
	if len(closes) != 1 || closes[0].symbol != "BUSDT" {
		t.Fatalf("close orders = %+v, want only BUSDT", closes)
	}
	if _, ok := l.Get("AUSDT"); !ok {
		t.Error("AUSDT must stay when its candles fail")
	}
}

func TestRegimeRefreshPublishesSnapshot(t *testing.T) {
	ex := newFakeExchange()
	for _, s := range []string{"A", "B", "C", "D", "E"} {
		ex.changes = append(ex.changes, models.PriceChange{Symbol: s, ChangePercent: 3})
	}

	e, _, _ := newTestEngine(t, testConfig(t), ex)
	_ = e.RunCycle(context.Background())

	r := e.Regime()
	if r.Trend != models.TrendStrongBullish || !r.IsOneSided {
		t.Fatalf("regime = %+v, want strong_bullish one-sided", r)
	}

	// в пределах интервала режим не пересчитывается
	ex.changes = []models.PriceChange{{Symbol: "A", ChangePercent: -5}}
	_ = e.RunCycle(context.Background())
	if e.Regime().Trend != models.TrendStrongBullish {
		t.Errorf("regime refreshed before interval elapsed: %+v", e.Regime())
	}
}

func TestEntryOpensTopCandidate(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["AUSDT"] = trend(100, 100, 1)
	ex.prices["AUSDT"] = 250

	cfg := testConfig(t)
	cfg.Trading.EntryEnabled = true
	cfg.Trading.Confirm = false

	e, _, n := newTestEngine(t, cfg, ex)
	_ = e.RunCycle(context.Background())

	market := ex.ordersOf("MARKET")
	if len(market) != 1 {
		t.Fatalf("market orders = %+v, want one entry", market)
	}
	// 1000 * 0.1 * 1 / 250
	if market[0].side != models.SideBuy || market[0].value != 0.4 {
		t.Errorf("entry = %+v, want BUY 0.4", market[0])
	}
	if len(n.messages) != 1 {
		t.Errorf("notifications = %d, want 1", len(n.messages))
	}
	if st := e.Status(); len(st.Candidates) != 1 || st.Candidates[0].Symbol != "AUSDT" {
		t.Errorf("status candidates = %+v", st.Candidates)
	}
}

func TestEntryTieFollowsUniverseOrder(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["AUSDT"] = trend(100, 100, 1)
	ex.klines["BUSDT"] = trend(100, 100, 1)
	ex.prices["AUSDT"] = 250
	ex.prices["BUSDT"] = 250

	cfg := testConfig(t)
	cfg.Trading.Symbols = []string{"BUSDT", "AUSDT"}
	cfg.Trading.EntryEnabled = true
	cfg.Trading.Confirm = false
	cfg.Trading.MaxPositions = 1

	for i := 0; i < 5; i++ {
		ex.orders = nil
		e, _, _ := newTestEngine(t, cfg, ex)
		_ = e.RunCycle(context.Background())

		market := ex.ordersOf("MARKET")
		if len(market) != 1 || market[0].symbol != "BUSDT" {
			t.Fatalf("run %d: entries = %+v, want BUSDT first in universe", i, market)
		}
	}
}

func TestEntryBlockedByRegime(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["AUSDT"] = trend(100, 100, 1)
	ex.prices["AUSDT"] = 250
	for _, s := range []string{"A", "B", "C", "D", "E"} {
		ex.changes = append(ex.changes, models.PriceChange{Symbol: s, ChangePercent: -4})
	}

	cfg := testConfig(t)
	cfg.Trading.EntryEnabled = true
	cfg.Trading.Confirm = false

	e, _, _ := newTestEngine(t, cfg, ex)
	_ = e.RunCycle(context.Background())

	if market := ex.ordersOf("MARKET"); len(market) != 0 {
		t.Fatalf("long entry must be blocked in strong bearish regime: %+v", market)
	}
}

func TestEntrySkippedWhenPositionsFull(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["AUSDT"] = trend(100, 100, 1)
	ex.prices["AUSDT"] = 250

	cfg := testConfig(t)
	cfg.Trading.EntryEnabled = true
	cfg.Trading.Confirm = false
	cfg.Trading.MaxPositions = 0

	e, _, _ := newTestEngine(t, cfg, ex)
	_ = e.RunCycle(context.Background())

	if market := ex.ordersOf("MARKET"); len(market) != 0 {
		t.Fatalf("no entries expected: %+v", market)
	}
}

func TestUniverseExcludes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trading.Symbols = nil
	cfg.Trading.Exclude = []string{"BUSDT"}

	e, _, _ := newTestEngine(t, cfg, newFakeExchange())
	got, err := e.resolveUniverse(context.Background())
	if err != nil {
		t.Fatalf("resolveUniverse: %v", err)
	}
	if len(got) != 1 || got[0] != "AUSDT" {
		t.Fatalf("universe = %v, want [AUSDT]", got)
	}
}
