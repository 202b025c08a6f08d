package models

import (
	"time"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Bearish возвращает true для медвежьей свечи (close < open)
func (c *Candle) Bearish() bool {
	return c.Close < c.Open
}

// Bullish возвращает true для бычьей свечи (close > open)
func (c *Candle) Bullish() bool {
	return c.Close > c.Open
}

// ClosedCandles отбрасывает последнюю (возможно незакрытую) свечу
func ClosedCandles(candles []*Candle) []*Candle {
	if len(candles) == 0 {
		return candles
	}
	return candles[:len(candles)-1]
}

// Closes возвращает цены закрытия
func Closes(candles []*Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs возвращает максимумы свечей
func Highs(candles []*Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows возвращает минимумы свечей
func Lows(candles []*Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes возвращает объемы свечей
func Volumes(candles []*Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// Direction направление сигнала
type Direction string

const (
	DirectionNone  Direction = "NONE"
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Side сторона позиции или ордера
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite возвращает противоположную сторону
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SideFromAmount определяет сторону строго по знаку объема
func SideFromAmount(amt float64) Side {
	if amt < 0 {
		return SideSell
	}
	return SideBuy
}

// EntrySide возвращает сторону ордера на открытие для направления
func (d Direction) EntrySide() Side {
	if d == DirectionShort {
		return SideSell
	}
	return SideBuy
}

// Signal результат детектора пересечений
type Signal struct {
	Symbol     string
	Direction  Direction
	Score      int
	CrossIndex int
}

// Candidate результат многофакторной оценки символа
type Candidate struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Score      int       `json:"score"`
	LongScore  int       `json:"long_score"`
	ShortScore int       `json:"short_score"`
	Price      float64   `json:"price"`
}

// Trend рыночный режим
type Trend string

const (
	TrendNeutral       Trend = "neutral"
	TrendBullish       Trend = "bullish"
	TrendBearish       Trend = "bearish"
	TrendStrongBullish Trend = "strong_bullish"
	TrendStrongBearish Trend = "strong_bearish"
)

// RegimeSummary сводка изменений цен по всей вселенной символов
type RegimeSummary struct {
	Total             int     `json:"total"`
	Up                int     `json:"up"`
	Down              int     `json:"down"`
	AverageChange     float64 `json:"average_change"`
	SignificantMovers int     `json:"significant_movers"`
}

// MarketRegime общерыночный вердикт
type MarketRegime struct {
	Trend      Trend         `json:"trend"`
	Confidence float64       `json:"confidence"`
	IsOneSided bool          `json:"is_one_sided"`
	Summary    RegimeSummary `json:"summary"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// PriceChange изменение цены символа за 24 часа, в процентах
type PriceChange struct {
	Symbol        string
	ChangePercent float64
}

// Position открытая позиция в локальном реестре
type Position struct {
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	PositionAmt float64   `json:"position_amt"`
	EntryPrice  float64   `json:"entry_price"`
	EntryTime   time.Time `json:"entry_time"`
	EntryEMA    float64   `json:"entry_ema"`
	EntryBOLL   float64   `json:"entry_boll"`
	StopLoss    float64   `json:"stop_loss,omitempty"`
	TakeProfit  float64   `json:"take_profit,omitempty"`
	Protected   bool      `json:"protected"`
}

// Quantity возвращает абсолютный объем позиции
func (p *Position) Quantity() float64 {
	if p.PositionAmt < 0 {
		return -p.PositionAmt
	}
	return p.PositionAmt
}

// PnLRate нереализованная доходность относительно цены входа
func (p *Position) PnLRate(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Side == SideSell {
		return (p.EntryPrice - price) / p.EntryPrice
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// ExchangePosition позиция, как ее сообщает биржа
type ExchangePosition struct {
	Symbol      string
	PositionAmt float64
	EntryPrice  float64
	UpdateTime  time.Time
}

// SidewaysState результат детектора боковика
type SidewaysState struct {
	Sideways     bool
	Insufficient bool
	Reason       string
	Duration     int
}

// RiskQuote рассчитанные уровни стоп-лосса и тейк-профита
type RiskQuote struct {
	Symbol     string
	Side       Side
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	ATR        float64
	Support    float64
	Resistance float64
	Fallback   bool
}

// RewardRisk отношение прибыли к риску
func (q *RiskQuote) RewardRisk() float64 {
	var reward, risk float64
	if q.Side == SideSell {
		reward, risk = q.Entry-q.TakeProfit, q.StopLoss-q.Entry
	} else {
		reward, risk = q.TakeProfit-q.Entry, q.Entry-q.StopLoss
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}

// SymbolPrecision точность цены и объема символа
type SymbolPrecision struct {
	Symbol            string
	PricePrecision    int32
	QuantityPrecision int32
	TickSize          float64
	StepSize          float64
}
