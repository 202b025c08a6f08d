// Package scoring ранжирует символы по многофакторной оценке
package scoring

import (
	"sort"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/internal/indicators"
	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
	"go.uber.org/zap"
)

// Scorer многофакторная оценка символа
type Scorer struct {
	config config.ScoringConfig
}

// NewScorer создает новый оценщик
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{config: cfg}
}

// Score оценивает символ по закрытым свечам. Возвращает false, если
// истории мало, рынок плоский или ни одна сторона не набрала MinScore.
func (s *Scorer) Score(symbol string, candles []*models.Candle) (models.Candidate, bool) {
	if len(candles) < s.config.MinCandles {
		return models.Candidate{}, false
	}

	if IsFlat(candles, s.config.FlatWindow, s.config.FlatThreshold) {
		logger.Debug("Плоский рынок, символ исключен", zap.String("symbol", symbol))
		return models.Candidate{}, false
	}

	closes := models.Closes(candles)
	fast, err := indicators.EMA(closes, s.config.FastEMA)
	if err != nil {
		return models.Candidate{}, false
	}
	slow, err := indicators.EMA(closes, s.config.SlowEMA)
	if err != nil {
		return models.Candidate{}, false
	}
	bands, err := indicators.Bollinger(closes, s.config.BollPeriod, s.config.BollStdDev)
	if err != nil {
		return models.Candidate{}, false
	}
	vwap, err := indicators.VWAP(candles)
	if err != nil {
		return models.Candidate{}, false
	}

	price := closes[len(closes)-1]
	emaFast, _ := fast.Last()
	emaSlow, _ := slow.Last()
	upper, _ := bands.Upper.Last()
	mid, _ := bands.Middle.Last()
	lower, _ := bands.Lower.Last()
	margin := s.config.EMASpreadMargin

	long := count(
		price > vwap,
		emaFast > emaSlow,
		price > mid,
		price < upper,
		emaFast-emaSlow > margin,
	)
	short := count(
		price < vwap,
		emaFast < emaSlow,
		price < mid,
		price > lower,
		emaSlow-emaFast > margin,
	)

	cand := models.Candidate{
		Symbol:     symbol,
		Direction:  models.DirectionNone,
		LongScore:  long,
		ShortScore: short,
		Price:      price,
	}

	switch {
	case long >= s.config.MinScore && long >= short:
		cand.Direction, cand.Score = models.DirectionLong, long
	case short >= s.config.MinScore:
		cand.Direction, cand.Score = models.DirectionShort, short
	default:
		return cand, false
	}

	return cand, true
}

func count(factors ...bool) int {
	n := 0
	for _, f := range factors {
		if f {
			n++
		}
	}
	return n
}

// Rank разбивает кандидатов по сторонам и берет topN лучших в каждой.
// При равной оценке сохраняется исходный порядок.
func Rank(candidates []models.Candidate, topN int) (longs, shorts []models.Candidate) {
	for _, c := range candidates {
		switch c.Direction {
		case models.DirectionLong:
			longs = append(longs, c)
		case models.DirectionShort:
			shorts = append(shorts, c)
		}
	}

	byScore := func(list []models.Candidate) []models.Candidate {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Score > list[j].Score
		})
		if len(list) > topN {
			list = list[:topN]
		}
		return list
	}

	return byScore(longs), byScore(shorts)
}
