package scoring

import "github.com/skalibog/futsig/pkg/models"

// IsFlat возвращает true, если диапазон цены последних window свечей
// относительно средней цены закрытия ниже threshold
func IsFlat(candles []*models.Candle, window int, threshold float64) bool {
	if len(candles) == 0 {
		return true
	}
	if len(candles) > window {
		candles = candles[len(candles)-window:]
	}

	high, low := candles[0].High, candles[0].Low
	var sum float64
	for _, c := range candles {
		high = max(high, c.High)
		low = min(low, c.Low)
		sum += c.Close
	}

	avg := sum / float64(len(candles))
	if avg == 0 {
		return true
	}
	return (high-low)/avg < threshold
}
