package indicators

import (
	"errors"
	"math"
	"testing"

	"github.com/skalibog/futsig/pkg/models"
)

const eps = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestEMA(t *testing.T) {
	in := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	s, err := EMA(in, 3)
	if err != nil {
		t.Fatalf("EMA: %v", err)
	}
	if s.Offset != 2 || len(s.Values) != 8 {
		t.Fatalf("offset=%d len=%d, want 2/8", s.Offset, len(s.Values))
	}
	if _, ok := s.At(1); ok {
		t.Error("index inside warm-up must be invalid")
	}
	if v, _ := s.At(2); !almostEqual(v, 2) {
		t.Errorf("EMA[2] = %v, want 2 (SMA seed)", v)
	}
	if v, _ := s.At(3); !almostEqual(v, 3) {
		t.Errorf("EMA[3] = %v, want 3", v)
	}
	if s.End() != len(in) {
		t.Errorf("End = %d, want %d", s.End(), len(in))
	}
}

func TestEMAInsufficient(t *testing.T) {
	_, err := EMA([]float64{1, 2}, 3)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestBollingerFlatSeries(t *testing.T) {
	in := make([]float64, 25)
	for i := range in {
		in[i] = 100
	}
	b, err := Bollinger(in, 20, 2)
	if err != nil {
		t.Fatalf("Bollinger: %v", err)
	}
	mid, ok := b.Middle.At(24)
	if !ok || !almostEqual(mid, 100) {
		t.Errorf("middle = %v/%v", mid, ok)
	}
	w, ok := b.WidthAt(24)
	if !ok || w > eps {
		t.Errorf("width = %v, want 0", w)
	}
	if _, ok := b.Middle.At(18); ok {
		t.Error("warm-up index must be invalid")
	}
}

func TestStdDev(t *testing.T) {
	s, err := StdDev([]float64{1, 2, 3, 4, 5}, 5)
	if err != nil {
		t.Fatalf("StdDev: %v", err)
	}
	v, _ := s.Last()
	if !almostEqual(v, math.Sqrt(2)) {
		t.Errorf("std = %v, want sqrt(2)", v)
	}
}

func TestATR(t *testing.T) {
	var candles []*models.Candle
	for i := 0; i < 20; i++ {
		candles = append(candles, &models.Candle{Open: 100, High: 101, Low: 99, Close: 100})
	}
	atr, err := ATR(candles, 14)
	if err != nil {
		t.Fatalf("ATR: %v", err)
	}
	if !almostEqual(atr, 2) {
		t.Errorf("ATR = %v, want 2", atr)
	}

	// гэп вверх: true range считается от предыдущего close
	candles = append(candles, &models.Candle{Open: 110, High: 111, Low: 109, Close: 110})
	atr, _ = ATR(candles, 1)
	if !almostEqual(atr, 11) {
		t.Errorf("ATR with gap = %v, want 11", atr)
	}

	if _, err := ATR(candles[:14], 14); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestVWAP(t *testing.T) {
	candles := []*models.Candle{
		{High: 12, Low: 8, Close: 10, Volume: 1},
		{High: 22, Low: 18, Close: 20, Volume: 3},
	}
	v, err := VWAP(candles)
	if err != nil {
		t.Fatalf("VWAP: %v", err)
	}
	if !almostEqual(v, 17.5) {
		t.Errorf("VWAP = %v, want 17.5", v)
	}

	if _, err := VWAP([]*models.Candle{{Close: 1}}); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("zero volume err = %v", err)
	}
}
