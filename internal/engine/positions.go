package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skalibog/futsig/internal/exit"
	"github.com/skalibog/futsig/internal/indicators"
	"github.com/skalibog/futsig/internal/storage"
	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
)

// capturer фиксирует EMA и середину Боллинджера для новой позиции
type capturer struct {
	e *Engine
}

func (c capturer) Capture(ctx context.Context, symbol string) (float64, float64, error) {
	candles, err := c.e.closedCandles(ctx, symbol)
	if err != nil {
		return 0, 0, err
	}
	closes := models.Closes(candles)

	ema, err := indicators.EMA(closes, c.e.cfg.Exit.EMAPeriod)
	if err != nil {
		return 0, 0, fmt.Errorf("EMA %s: %w", symbol, err)
	}
	bands, err := indicators.Bollinger(closes, c.e.cfg.Exit.BollPeriod, c.e.cfg.Exit.BollStdDev)
	if err != nil {
		return 0, 0, fmt.Errorf("BOLL %s: %w", symbol, err)
	}
	emaLast, _ := ema.Last()
	mid, _ := bands.Middle.Last()
	return emaLast, mid, nil
}

// protect выставляет SL/TP для позиций без защитных ордеров
func (e *Engine) protect(ctx context.Context) {
	var pending []string
	for _, pos := range e.ledger.Snapshot() {
		if !pos.Protected {
			pending = append(pending, pos.Symbol)
		}
	}
	if len(pending) == 0 {
		return
	}

	e.forEach("protect", pending, func(symbol string) error {
		pos, ok := e.ledger.Get(symbol)
		if !ok {
			return nil
		}
		return e.protectPosition(ctx, pos)
	})
}

func (e *Engine) protectPosition(ctx context.Context, pos models.Position) error {
	q := e.pricer.Quote(ctx, pos.Symbol, pos.Side, pos.EntryPrice)

	if err := e.storage.SaveQuote(ctx, q, e.now()); err != nil {
		logger.Warn("Ошибка сохранения расчета SL/TP", zap.Error(err))
	}
	if q.Fallback {
		e.metrics.RecordFallback()
		e.notify(ctx, fallbackMessage(q))
	}

	closeSide := pos.Side.Opposite()

	// стоп уже стоит с прошлого цикла, повторно выставляется только тейк-профит
	if pos.StopLoss == 0 {
		if err := e.exchange.StopMarket(ctx, pos.Symbol, closeSide, q.StopLoss); err != nil {
			return fmt.Errorf("стоп-лосс %.8g: %w", q.StopLoss, err)
		}
		pos.StopLoss = q.StopLoss
		if err := e.ledger.Update(ctx, pos); err != nil {
			return err
		}
	}
	if err := e.exchange.TakeProfitMarket(ctx, pos.Symbol, closeSide, q.TakeProfit); err != nil {
		return fmt.Errorf("тейк-профит %.8g: %w", q.TakeProfit, err)
	}

	pos.TakeProfit = q.TakeProfit
	pos.Protected = true
	if err := e.ledger.Update(ctx, pos); err != nil {
		return err
	}

	logger.Info("Защитные ордера выставлены",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("stop_loss", pos.StopLoss),
		zap.Float64("take_profit", q.TakeProfit),
		zap.Bool("fallback", q.Fallback))
	return nil
}

// evaluateExits прогоняет правила выхода по снимку реестра
func (e *Engine) evaluateExits(ctx context.Context) {
	snapshot := e.ledger.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	bySymbol := make(map[string]models.Position, len(snapshot))
	symbols := make([]string, 0, len(snapshot))
	for _, pos := range snapshot {
		bySymbol[pos.Symbol] = pos
		symbols = append(symbols, pos.Symbol)
	}

	e.forEach("exit", symbols, func(symbol string) error {
		return e.evaluateExit(ctx, bySymbol[symbol])
	})
}

func (e *Engine) evaluateExit(ctx context.Context, pos models.Position) error {
	candles, err := e.closedCandles(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("свечи: %w", err)
	}
	price, err := e.livePrice(ctx, pos.Symbol)
	if err != nil {
		logger.Debug("Цена недоступна, используется close последней свечи",
			zap.String("symbol", pos.Symbol), zap.Error(err))
		price = 0
	}

	in := exit.NewInput(e.cfg.Exit, pos, candles, price, e.now())
	decision := e.exits.Decide(in)
	if !decision.Close {
		logger.Debug("Позиция удерживается",
			zap.String("symbol", pos.Symbol),
			zap.Float64("pnl", in.PnL))
		return nil
	}
	return e.closePosition(ctx, pos, decision, in)
}

func (e *Engine) closePosition(ctx context.Context, pos models.Position, d exit.Decision, in exit.Input) error {
	side := pos.Side.Opposite()
	qty := pos.Quantity()

	if err := e.exchange.CloseMarket(ctx, pos.Symbol, side, qty); err != nil {
		logger.Error("Ошибка закрытия позиции, позиция остается в реестре",
			zap.String("symbol", pos.Symbol),
			zap.String("side", string(side)),
			zap.Float64("quantity", qty),
			zap.String("type", "MARKET"),
			zap.Bool("reduce_only", true),
			zap.String("rule", d.Rule),
			zap.String("reason", d.Reason),
			zap.Error(err))
		e.metrics.RecordError("submit")
		return nil
	}

	logger.Info("Позиция закрыта",
		zap.String("symbol", pos.Symbol),
		zap.String("rule", d.Rule),
		zap.String("reason", d.Reason),
		zap.Float64("pnl", in.PnL))
	e.metrics.RecordExit(d.Rule)
	e.notify(ctx, exitMessage(pos, d, in))

	if err := e.ledger.Remove(ctx, pos.Symbol); err != nil {
		logger.Warn("Ошибка удаления позиции из реестра", zap.String("symbol", pos.Symbol), zap.Error(err))
	}

	rec := storage.ExitRecord{
		Symbol: pos.Symbol,
		Side:   pos.Side,
		Rule:   d.Rule,
		Reason: d.Reason,
		PnL:    in.PnL,
		Price:  in.Price,
		Time:   in.Now,
	}
	if err := e.storage.SaveExit(ctx, rec); err != nil {
		logger.Warn("Ошибка сохранения закрытия", zap.Error(err))
	}
	return nil
}
