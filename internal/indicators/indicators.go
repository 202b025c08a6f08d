// Package indicators содержит расчет индикаторов поверх go-talib.
// Все функции чистые: одинаковый вход дает одинаковый результат.
package indicators

import (
	"errors"
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/skalibog/futsig/pkg/models"
)

// ErrInsufficientData недостаточно истории для расчета
var ErrInsufficientData = errors.New("недостаточно данных")

// Series ряд индикатора, укороченный на период прогрева.
// Values[0] соответствует свече с индексом Offset.
type Series struct {
	Values []float64
	Offset int
}

// At возвращает значение для абсолютного индекса свечи
func (s Series) At(i int) (float64, bool) {
	j := i - s.Offset
	if j < 0 || j >= len(s.Values) {
		return 0, false
	}
	return s.Values[j], true
}

// Last возвращает последнее значение ряда
func (s Series) Last() (float64, bool) {
	if len(s.Values) == 0 {
		return 0, false
	}
	return s.Values[len(s.Values)-1], true
}

// End абсолютный индекс, следующий за последним значением
func (s Series) End() int {
	return s.Offset + len(s.Values)
}

func trim(out []float64, period int) Series {
	return Series{Values: out[period-1:], Offset: period - 1}
}

func insufficient(name string, have, need int) error {
	return fmt.Errorf("%s: %d из %d: %w", name, have, need, ErrInsufficientData)
}

// EMA экспоненциальная скользящая средняя
func EMA(in []float64, period int) (Series, error) {
	if period < 1 || len(in) < period {
		return Series{}, insufficient("EMA", len(in), period)
	}
	return trim(talib.Ema(in, period), period), nil
}

// Bands полосы Боллинджера
type Bands struct {
	Upper  Series
	Middle Series
	Lower  Series
}

// WidthAt относительная ширина полос (upper-lower)/middle
func (b Bands) WidthAt(i int) (float64, bool) {
	up, ok1 := b.Upper.At(i)
	mid, ok2 := b.Middle.At(i)
	low, ok3 := b.Lower.At(i)
	if !ok1 || !ok2 || !ok3 || mid == 0 {
		return 0, false
	}
	return (up - low) / mid, true
}

// Bollinger полосы Боллинджера на простой средней
func Bollinger(in []float64, period int, dev float64) (Bands, error) {
	if period < 2 || len(in) < period {
		return Bands{}, insufficient("BOLL", len(in), period)
	}
	upper, middle, lower := talib.BBands(in, period, dev, dev, talib.SMA)
	return Bands{
		Upper:  trim(upper, period),
		Middle: trim(middle, period),
		Lower:  trim(lower, period),
	}, nil
}

// StdDev скользящее стандартное отклонение (по генеральной совокупности)
func StdDev(in []float64, period int) (Series, error) {
	if period < 2 || len(in) < period {
		return Series{}, insufficient("STDDEV", len(in), period)
	}
	return trim(talib.StdDev(in, period, 1), period), nil
}

// ATR средний истинный диапазон: простое среднее true range за period
// последних свечей. Первой свече нужен предыдущий close, поэтому
// требуется period+1 свеча.
func ATR(candles []*models.Candle, period int) (float64, error) {
	if period < 1 || len(candles) < period+1 {
		return 0, insufficient("ATR", len(candles), period+1)
	}

	tr := talib.TRange(models.Highs(candles), models.Lows(candles), models.Closes(candles))
	sma := talib.Sma(tr[1:], period)
	return sma[len(sma)-1], nil
}

// VWAP средневзвешенная по объему цена окна по типичной цене (H+L+C)/3
func VWAP(candles []*models.Candle) (float64, error) {
	var pv, vol float64
	for _, c := range candles {
		pv += (c.High + c.Low + c.Close) / 3 * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0, insufficient("VWAP", 0, 1)
	}
	return pv / vol, nil
}

// Mean среднее арифметическое
func Mean(in []float64) float64 {
	if len(in) == 0 {
		return 0
	}
	var sum float64
	for _, v := range in {
		sum += v
	}
	return sum / float64(len(in))
}
