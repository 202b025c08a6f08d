// Package regime определяет общерыночный режим по 24-часовым изменениям цен
package regime

import (
	"math"
	"time"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/pkg/models"
)

const strongConfidence = 95

// Classifier классификатор рыночного режима
type Classifier struct {
	config config.RegimeConfig
	now    func() time.Time
}

// NewClassifier создает классификатор
func NewClassifier(cfg config.RegimeConfig) *Classifier {
	return &Classifier{config: cfg, now: time.Now}
}

// Summarize считает сводку по снимку всей вселенной
func (c *Classifier) Summarize(changes []models.PriceChange) models.RegimeSummary {
	s := models.RegimeSummary{Total: len(changes)}
	if len(changes) == 0 {
		return s
	}

	var sum float64
	for _, ch := range changes {
		switch {
		case ch.ChangePercent > 0:
			s.Up++
		case ch.ChangePercent < 0:
			s.Down++
		}
		if math.Abs(ch.ChangePercent) > c.config.SignificantMove {
			s.SignificantMovers++
		}
		sum += ch.ChangePercent
	}
	s.AverageChange = sum / float64(len(changes))
	return s
}

// Classify строит режим по полному снимку изменений.
// Пустой снимок дает neutral без ошибки.
func (c *Classifier) Classify(changes []models.PriceChange) models.MarketRegime {
	return c.FromSummary(c.Summarize(changes))
}

// FromSummary применяет правила классификации к готовой сводке
func (c *Classifier) FromSummary(s models.RegimeSummary) models.MarketRegime {
	r := models.MarketRegime{Trend: models.TrendNeutral, Summary: s, UpdatedAt: c.now()}
	if s.Total == 0 {
		return r
	}

	total := float64(s.Total)
	upRatio := float64(s.Up) / total
	downRatio := float64(s.Down) / total
	sigRatio := float64(s.SignificantMovers) / total

	// односторонний рынок проверяется первым и перекрывает мягкие правила
	switch {
	case upRatio > c.config.StrongRatio:
		r.Trend, r.Confidence, r.IsOneSided = models.TrendStrongBullish, strongConfidence, true
	case downRatio > c.config.StrongRatio:
		r.Trend, r.Confidence, r.IsOneSided = models.TrendStrongBearish, strongConfidence, true
	case upRatio > c.config.TrendRatio && s.AverageChange > c.config.MeanChange && sigRatio > c.config.SignificantRatio:
		r.Trend, r.Confidence = models.TrendBullish, math.Min(upRatio*100, 90)
	case downRatio > c.config.TrendRatio && s.AverageChange < -c.config.MeanChange && sigRatio > c.config.SignificantRatio:
		r.Trend, r.Confidence = models.TrendBearish, math.Min(downRatio*100, 90)
	}

	return r
}

// Blocks сообщает, запрещает ли режим вход в направлении d
func Blocks(r models.MarketRegime, d models.Direction) bool {
	if !r.IsOneSided {
		return false
	}
	switch r.Trend {
	case models.TrendStrongBullish:
		return d == models.DirectionShort
	case models.TrendStrongBearish:
		return d == models.DirectionLong
	}
	return false
}
