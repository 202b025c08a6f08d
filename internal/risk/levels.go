package risk

import (
	"sort"

	"github.com/skalibog/futsig/pkg/models"
)

// Levels кластеры поддержки и сопротивления
type Levels struct {
	Support    float64
	Resistance float64
}

// FindLevels объединяет high/low/close свечей в один отсортированный список
// и ищет цену с максимальным числом значений в полосе band выше нее
// (сопротивление) или ниже нее (поддержка). Начальный кандидат берется
// с края списка, поэтому при равенстве побеждает крайнее значение.
func FindLevels(candles []*models.Candle, band float64) Levels {
	prices := make([]float64, 0, len(candles)*3)
	for _, c := range candles {
		prices = append(prices, c.High, c.Low, c.Close)
	}
	if len(prices) == 0 {
		return Levels{}
	}
	sort.Float64s(prices)

	within := func(lo, hi float64) int {
		from := sort.SearchFloat64s(prices, lo)
		to := sort.Search(len(prices), func(i int) bool { return prices[i] > hi })
		return to - from
	}

	resistance := prices[len(prices)-1]
	best := within(resistance, resistance*(1+band))
	for i := len(prices) - 1; i >= 0; i-- {
		p := prices[i]
		if n := within(p, p*(1+band)); n > best {
			resistance, best = p, n
		}
	}

	support := prices[0]
	best = within(support*(1-band), support)
	for _, p := range prices {
		if n := within(p*(1-band), p); n > best {
			support, best = p, n
		}
	}

	return Levels{Support: support, Resistance: resistance}
}
