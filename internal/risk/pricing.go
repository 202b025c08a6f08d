// Package risk рассчитывает стоп-лосс и тейк-профит по ATR
// и кластерам поддержки/сопротивления
package risk

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/internal/indicators"
	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
)

// CandleProvider источник свечей
type CandleProvider interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
}

// PriceProvider источник последней цены
type PriceProvider interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// PrecisionProvider точность цены символа
type PrecisionProvider interface {
	Precision(ctx context.Context, symbol string) (models.SymbolPrecision, error)
}

// Engine движок динамического расчета SL/TP
type Engine struct {
	config    config.RiskConfig
	candles   CandleProvider
	prices    PriceProvider
	precision PrecisionProvider
}

// NewEngine создает движок. precision может быть nil, тогда цены не округляются.
func NewEngine(cfg config.RiskConfig, candles CandleProvider, prices PriceProvider, precision PrecisionProvider) *Engine {
	return &Engine{config: cfg, candles: candles, prices: prices, precision: precision}
}

// Inputs рыночные данные для расчета
type Inputs struct {
	ATR     float64
	Current float64
	Levels  Levels
}

// Quote рассчитывает уровни для позиции. Ошибки сбора данных не
// возвращаются: вместо них используется фиксированный процент от входа
// и выставляется Fallback.
func (e *Engine) Quote(ctx context.Context, symbol string, side models.Side, entry float64) models.RiskQuote {
	in, err := e.gather(ctx, symbol)

	var q models.RiskQuote
	if err != nil {
		logger.Warn("Ошибка сбора данных для SL/TP, используются значения по умолчанию",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Float64("entry", entry),
			zap.Error(err))
		q = Fallback(e.config, side, entry)
	} else {
		q = Compute(e.config, side, entry, in)
	}
	q.Symbol = symbol

	if in.Current > 0 {
		q = ValidateLive(e.config, q, in.Current)
	}

	return e.round(ctx, q)
}

func (e *Engine) gather(ctx context.Context, symbol string) (Inputs, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var in Inputs
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		candles, err := e.candles.GetKlines(gctx, symbol, e.config.Interval, e.config.ATRPeriod+2)
		if err != nil {
			return fmt.Errorf("ошибка получения свечей для ATR: %w", err)
		}
		atr, err := indicators.ATR(models.ClosedCandles(candles), e.config.ATRPeriod)
		if err != nil {
			return fmt.Errorf("ошибка расчета ATR: %w", err)
		}
		in.ATR = atr
		return nil
	})

	g.Go(func() error {
		candles, err := e.candles.GetKlines(gctx, symbol, e.config.Interval, e.config.LevelsLookback+1)
		if err != nil {
			return fmt.Errorf("ошибка получения свечей для уровней: %w", err)
		}
		in.Levels = FindLevels(models.ClosedCandles(candles), e.config.LevelBand)
		return nil
	})

	g.Go(func() error {
		price, err := e.prices.GetPrice(gctx, symbol)
		if err != nil {
			return fmt.Errorf("ошибка получения цены: %w", err)
		}
		in.Current = price
		return nil
	})

	err := g.Wait()
	return in, err
}

func (e *Engine) round(ctx context.Context, q models.RiskQuote) models.RiskQuote {
	if e.precision == nil {
		return q
	}
	p, err := e.precision.Precision(ctx, q.Symbol)
	if err != nil {
		logger.Warn("Точность символа недоступна, цены не округлены", zap.String("symbol", q.Symbol), zap.Error(err))
		return q
	}
	q.StopLoss = RoundPrice(q.StopLoss, p)
	q.TakeProfit = RoundPrice(q.TakeProfit, p)
	return q
}

// Compute чистый расчет уровней по ATR, уровням и текущей цене
func Compute(cfg config.RiskConfig, side models.Side, entry float64, in Inputs) models.RiskQuote {
	q := models.RiskQuote{
		Side:       side,
		Entry:      entry,
		ATR:        in.ATR,
		Support:    in.Levels.Support,
		Resistance: in.Levels.Resistance,
	}

	cur := in.Current
	if cur <= 0 {
		cur = entry
	}
	hasSupport := in.Levels.Support > 0 && in.Levels.Support < entry
	hasResistance := in.Levels.Resistance > entry

	if side == models.SideSell {
		tp := entry - in.ATR*cfg.TPMultiplier
		sl := entry + in.ATR*cfg.SLMultiplier
		if hasSupport {
			tp = max(tp, in.Levels.Support*(1+cfg.LevelBuffer))
		}
		if hasResistance {
			sl = min(sl, in.Levels.Resistance*(1-cfg.LevelBuffer))
		}
		tp = min(tp, cur*(1-cfg.MinDistance), entry*(1-cfg.MinDistance))
		sl = max(sl, cur*(1+cfg.MinDistance), entry*(1+cfg.MinDistance))

		risk := sl - entry
		if risk > 0 && (entry-tp)/risk < cfg.MinRewardRisk {
			tp = entry - risk*cfg.MinRewardRisk
		}
		if !(tp < entry) || tp <= 0 {
			tp = entry * (1 - cfg.SanityPct)
		}
		if !(sl > entry) {
			sl = entry * (1 + cfg.SanityPct)
		}
		q.TakeProfit, q.StopLoss = tp, sl
		return q
	}

	tp := entry + in.ATR*cfg.TPMultiplier
	sl := entry - in.ATR*cfg.SLMultiplier
	if hasResistance {
		tp = min(tp, in.Levels.Resistance*(1-cfg.LevelBuffer))
	}
	if hasSupport {
		sl = max(sl, in.Levels.Support*(1+cfg.LevelBuffer))
	}
	tp = max(tp, cur*(1+cfg.MinDistance), entry*(1+cfg.MinDistance))
	sl = min(sl, cur*(1-cfg.MinDistance), entry*(1-cfg.MinDistance))

	risk := entry - sl
	if risk > 0 && (tp-entry)/risk < cfg.MinRewardRisk {
		tp = entry + risk*cfg.MinRewardRisk
	}
	if !(tp > entry) {
		tp = entry * (1 + cfg.SanityPct)
	}
	if !(sl < entry) || sl <= 0 {
		sl = entry * (1 - cfg.SanityPct)
	}
	q.TakeProfit, q.StopLoss = tp, sl
	return q
}

// Fallback фиксированные уровни относительно входа
func Fallback(cfg config.RiskConfig, side models.Side, entry float64) models.RiskQuote {
	q := models.RiskQuote{Side: side, Entry: entry, Fallback: true}
	if side == models.SideSell {
		q.TakeProfit = entry * (1 - cfg.FallbackProfit)
		q.StopLoss = entry * (1 + cfg.FallbackLoss)
	} else {
		q.TakeProfit = entry * (1 + cfg.FallbackProfit)
		q.StopLoss = entry * (1 - cfg.FallbackLoss)
	}
	return q
}

// ValidateLive отодвигает уровни, уже пробитые текущей ценой,
// на LiveBuffer за текущую цену
func ValidateLive(cfg config.RiskConfig, q models.RiskQuote, live float64) models.RiskQuote {
	if q.Side == models.SideSell {
		if q.StopLoss <= live {
			q.StopLoss = live * (1 + cfg.LiveBuffer)
		}
		if q.TakeProfit >= live {
			q.TakeProfit = live * (1 - cfg.LiveBuffer)
		}
		return q
	}

	if q.StopLoss >= live {
		q.StopLoss = live * (1 - cfg.LiveBuffer)
	}
	if q.TakeProfit <= live {
		q.TakeProfit = live * (1 + cfg.LiveBuffer)
	}
	return q
}
