// Package exit решает, закрывать ли открытую позицию. Правила проверяются
// по порядку, срабатывает первое подходящее.
package exit

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/skalibog/futsig/internal/analysis/sideways"
	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/internal/indicators"
	"github.com/skalibog/futsig/pkg/models"
)

// Причины закрытия
const (
	ReasonStopLoss   = "stop-loss"
	ReasonBreakdown  = "breakdown take-profit"
	ReasonVolatility = "volatility compressed"
	ReasonTimeDecay  = "time-decay"
)

// Input рыночное состояние позиции на момент проверки
type Input struct {
	Position models.Position
	Candles  []*models.Candle
	Price    float64
	PnL      float64
	Now      time.Time

	// текущие EMA и средняя линия Боллинджера, Indicated=false при нехватке истории
	EMA       float64
	BollMid   float64
	Indicated bool
}

// NewInput собирает вход по закрытым свечам. price это последняя цена,
// при нуле берется close последней свечи.
func NewInput(cfg config.ExitConfig, pos models.Position, candles []*models.Candle, price float64, now time.Time) Input {
	in := Input{Position: pos, Candles: candles, Price: price, Now: now}

	closes := models.Closes(candles)
	if in.Price <= 0 && len(closes) > 0 {
		in.Price = closes[len(closes)-1]
	}
	in.PnL = pos.PnLRate(in.Price)

	ema, err1 := indicators.EMA(closes, cfg.EMAPeriod)
	bands, err2 := indicators.Bollinger(closes, cfg.BollPeriod, cfg.BollStdDev)
	if err1 == nil && err2 == nil {
		in.EMA, _ = ema.Last()
		in.BollMid, _ = bands.Middle.Last()
		in.Indicated = true
	}
	return in
}

// Close последняя закрытая цена
func (in Input) Close() float64 {
	if len(in.Candles) == 0 {
		return in.Price
	}
	return in.Candles[len(in.Candles)-1].Close
}

// Rule одно правило выхода
type Rule interface {
	Name() string
	Evaluate(in Input) (reason string, exit bool)
}

// StopLoss закрывает убыточную позицию
type StopLoss struct {
	Rate float64
}

func (StopLoss) Name() string { return "stop_loss" }

func (r StopLoss) Evaluate(in Input) (string, bool) {
	if in.PnL < -r.Rate {
		return ReasonStopLoss, true
	}
	return "", false
}

// Breakdown фиксирует прибыль, когда цена ушла за EMA или среднюю линию,
// от которых позиция открывалась
type Breakdown struct{}

func (Breakdown) Name() string { return "breakdown" }

func (Breakdown) Evaluate(in Input) (string, bool) {
	p := in.Position
	if in.PnL <= 0 || !in.Indicated || p.EntryEMA <= 0 || p.EntryBOLL <= 0 {
		return "", false
	}

	last := in.Close()
	var broken bool
	if p.Side == models.SideSell {
		broken = (p.EntryPrice < p.EntryEMA && last > in.EMA) ||
			(p.EntryPrice < p.EntryBOLL && last > in.BollMid)
	} else {
		broken = (p.EntryPrice > p.EntryEMA && last < in.EMA) ||
			(p.EntryPrice > p.EntryBOLL && last < in.BollMid)
	}
	if broken {
		return ReasonBreakdown, true
	}
	return "", false
}

// Sideways закрывает прибыльную позицию в боковике
type Sideways struct {
	Detector *sideways.Detector
}

func (Sideways) Name() string { return "sideways" }

func (r Sideways) Evaluate(in Input) (string, bool) {
	if in.PnL <= 0 {
		return "", false
	}
	state := r.Detector.DetectCandles(in.Candles)
	if state.Sideways {
		return state.Reason, true
	}
	return "", false
}

// Volatility закрывает прибыльную позицию, когда тела свечей сжались
type Volatility struct {
	Window    int
	Threshold float64
}

func (Volatility) Name() string { return "volatility" }

func (r Volatility) Evaluate(in Input) (string, bool) {
	if in.PnL <= 0 || len(in.Candles) < r.Window {
		return "", false
	}

	var body, sum float64
	for _, c := range in.Candles[len(in.Candles)-r.Window:] {
		body += math.Abs(c.Close - c.Open)
		sum += c.Close
	}
	avgClose := sum / float64(r.Window)
	if avgClose == 0 {
		return "", false
	}

	if (body/float64(r.Window))/avgClose < r.Threshold {
		return ReasonVolatility, true
	}
	return "", false
}

// TimeDecay закрывает позицию, которая долго не дает прибыли.
// Оба порога проверяются всегда, достаточно любого.
type TimeDecay struct {
	MinHolding    time.Duration
	MinProfitRate float64
	LooseHolding  time.Duration
	LooseProfit   float64
}

func (TimeDecay) Name() string { return "time_decay" }

func (r TimeDecay) Evaluate(in Input) (string, bool) {
	held := in.Now.Sub(in.Position.EntryTime)

	var gates []string
	if held > r.MinHolding && in.PnL < r.MinProfitRate {
		gates = append(gates, fmt.Sprintf("held %s, pnl %.4f < %.4f", held.Round(time.Minute), in.PnL, r.MinProfitRate))
	}
	if held > r.LooseHolding && in.PnL < r.LooseProfit {
		gates = append(gates, fmt.Sprintf("held %s, pnl %.4f < %.4f", held.Round(time.Minute), in.PnL, r.LooseProfit))
	}
	if len(gates) == 0 {
		return "", false
	}
	return ReasonTimeDecay + ": " + strings.Join(gates, "; "), true
}
