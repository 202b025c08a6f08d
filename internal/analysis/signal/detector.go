// Package signal ищет пересечения EMA с подтверждением по средней линии Боллинджера
package signal

import (
	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/internal/indicators"
	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
	"go.uber.org/zap"
)

// NoSignalScore сентинел "пропустить символ" при нехватке истории
const NoSignalScore = -999

// Detector детектор золотого/мертвого креста
type Detector struct {
	config config.SignalConfig
}

// NewDetector создает новый детектор
func NewDetector(cfg config.SignalConfig) *Detector {
	return &Detector{config: cfg}
}

// MinCandles минимальная длина закрытых свечей
func (d *Detector) MinCandles() int {
	return d.config.MinCandles()
}

// Detect анализирует закрытые свечи и возвращает сигнал.
// Недостаток истории дает Score == NoSignalScore, а не ошибку.
func (d *Detector) Detect(symbol string, candles []*models.Candle) models.Signal {
	result := models.Signal{Symbol: symbol, Direction: models.DirectionNone, CrossIndex: -1}

	if len(candles) < d.MinCandles() {
		result.Score = NoSignalScore
		return result
	}

	closes := models.Closes(candles)
	short, err1 := indicators.EMA(closes, d.config.ShortEMA)
	long, err2 := indicators.EMA(closes, d.config.LongEMA)
	bands, err3 := indicators.Bollinger(closes, d.config.BollPeriod, d.config.BollStdDev)
	if err1 != nil || err2 != nil || err3 != nil {
		result.Score = NoSignalScore
		return result
	}

	idx, golden, found := d.findCross(short, long, len(candles))
	if !found {
		return result
	}
	result.CrossIndex = idx

	mid, ok := bands.Middle.At(idx)
	if !ok {
		return result
	}

	var direction models.Direction
	switch {
	case golden && closes[idx] >= mid:
		direction = models.DirectionLong
	case !golden && closes[idx] <= mid:
		direction = models.DirectionShort
	default:
		return result
	}

	result.Score = 1
	result.Direction = direction

	if d.choppy(candles, direction) {
		result.Score--
		result.Direction = models.DirectionNone
		logger.Debug("Сигнал отменен фильтром пилы",
			zap.String("symbol", symbol),
			zap.String("direction", string(direction)),
			zap.Int("cross_index", idx))
	}

	return result
}

// findCross идет от новой свечи к старой в пределах RecentCandles
// и возвращает первое найденное пересечение
func (d *Detector) findCross(short, long indicators.Series, n int) (int, bool, bool) {
	oldest := n - d.config.RecentCandles
	for i := n - 1; i >= oldest && i >= 1; i-- {
		prevS, ok1 := short.At(i - 1)
		prevL, ok2 := long.At(i - 1)
		curS, ok3 := short.At(i)
		curL, ok4 := long.At(i)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			break
		}

		if prevS <= prevL && curS > curL {
			return i, true, true
		}
		if prevS >= prevL && curS < curL {
			return i, false, true
		}
	}
	return -1, false, false
}

// choppy проверяет серию из ChopCount и более свечей против сигнала
// в хвостовом окне ChopWindow
func (d *Detector) choppy(candles []*models.Candle, direction models.Direction) bool {
	start := max(len(candles)-d.config.ChopWindow, 0)

	run, best := 0, 0
	for _, c := range candles[start:] {
		against := c.Bearish()
		if direction == models.DirectionShort {
			against = c.Bullish()
		}
		if against {
			run++
			best = max(best, run)
		} else {
			run = 0
		}
	}
	return best >= d.config.ChopCount
}
