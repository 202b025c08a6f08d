// Package sideways распознает боковик по стандартному отклонению цены
// и ширине полос Боллинджера, выдержанным заданное число свечей
package sideways

import (
	"fmt"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/internal/indicators"
	"github.com/skalibog/futsig/pkg/models"
)

const bollStdDev = 2

// Detector детектор боковика
type Detector struct {
	config config.SidewaysConfig
}

// NewDetector создает детектор
func NewDetector(cfg config.SidewaysConfig) *Detector {
	return &Detector{config: cfg}
}

// DetectCandles считает полосы с периодом BollNarrowPeriod и вызывает Detect
func (d *Detector) DetectCandles(candles []*models.Candle) models.SidewaysState {
	closes := models.Closes(candles)
	bands, err := indicators.Bollinger(closes, d.config.BollNarrowPeriod, bollStdDev)
	if err != nil {
		return insufficient()
	}
	return d.Detect(closes, bands)
}

// Detect проверяет хвостовые MinDuration позиций. Позиция подходит, если
// std/mean последних PriceStdPeriod цен и средняя ширина полос на том же
// окне ниже порогов. Любая неподходящая позиция обнуляет серию.
func (d *Detector) Detect(closes []float64, bands indicators.Bands) models.SidewaysState {
	period := d.config.PriceStdPeriod
	duration := d.config.MinDuration
	n := len(closes)

	if n < period+duration {
		return insufficient()
	}

	std, err := indicators.StdDev(closes, period)
	if err != nil {
		return insufficient()
	}

	flags := make([]bool, 0, duration)
	var lastStd, lastWidth float64
	for pos := n - duration; pos < n; pos++ {
		window := closes[pos-period+1 : pos+1]
		mean := indicators.Mean(window)
		sd, ok := std.At(pos)
		if !ok || mean == 0 {
			flags = append(flags, false)
			continue
		}

		width, ok := meanWidth(bands, pos-period+1, pos)
		lastStd, lastWidth = sd/mean, width
		flags = append(flags, ok && lastStd < d.config.PriceStdThreshold && lastWidth < d.config.BollNarrowThreshold)
	}

	streak := Streak(flags)
	state := models.SidewaysState{Duration: streak}
	if streak >= duration {
		state.Sideways = true
		state.Reason = fmt.Sprintf("sideways for %d candles (std %.4f%%, boll width %.4f%%)", streak, lastStd*100, lastWidth*100)
	}
	return state
}

// Streak длина серии подходящих позиций, завершающейся последней.
// Серия сбрасывается в ноль на любой неподходящей позиции.
func Streak(flags []bool) int {
	streak := 0
	for _, ok := range flags {
		if ok {
			streak++
		} else {
			streak = 0
		}
	}
	return streak
}

func meanWidth(bands indicators.Bands, from, to int) (float64, bool) {
	var sum float64
	var count int
	for i := from; i <= to; i++ {
		if w, ok := bands.WidthAt(i); ok {
			sum += w
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

func insufficient() models.SidewaysState {
	return models.SidewaysState{Insufficient: true, Reason: "insufficient data"}
}
