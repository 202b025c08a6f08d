package sideways

import (
	"testing"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/pkg/models"
)

func testConfig() config.SidewaysConfig {
	return config.SidewaysConfig{
		Enabled:             true,
		PriceStdPeriod:      10,
		PriceStdThreshold:   0.003,
		BollNarrowPeriod:    20,
		BollNarrowThreshold: 0.01,
		MinDuration:         5,
	}
}

func quiet(n int) []*models.Candle {
	candles := make([]*models.Candle, n)
	for i := range candles {
		c := 100.0
		if i%2 == 1 {
			c = 100.01
		}
		candles[i] = &models.Candle{Open: c, High: c, Low: c, Close: c}
	}
	return candles
}

func TestDetectQuietMarket(t *testing.T) {
	d := NewDetector(testConfig())
	state := d.DetectCandles(quiet(40))
	if !state.Sideways {
		t.Fatalf("got %+v, want sideways", state)
	}
	if state.Duration != 5 || state.Reason == "" {
		t.Errorf("duration=%d reason=%q", state.Duration, state.Reason)
	}
}

func TestDetectSpikeBreaksStreak(t *testing.T) {
	candles := quiet(40)
	candles[len(candles)-1].Close = 110

	state := NewDetector(testConfig()).DetectCandles(candles)
	if state.Sideways || state.Insufficient {
		t.Fatalf("got %+v, want non-sideways", state)
	}
}

func TestDetectInsufficient(t *testing.T) {
	cfg := testConfig()
	cfg.BollNarrowPeriod = 5
	d := NewDetector(cfg)

	state := d.DetectCandles(quiet(14))
	if !state.Insufficient || state.Sideways {
		t.Fatalf("got %+v, want insufficient", state)
	}

	if state := d.DetectCandles(quiet(15)); state.Insufficient {
		t.Fatalf("15 candles must be enough, got %+v", state)
	}
}

func TestStreakResetsOnSingleViolation(t *testing.T) {
	const duration = 5

	// duration-1 подходящих, одно нарушение, одна подходящая
	flags := []bool{true, true, true, true, false, true}
	if got := Streak(flags); got >= duration {
		t.Fatalf("streak = %d, must not reach %d", got, duration)
	}
	if got := Streak(flags); got != 1 {
		t.Errorf("streak = %d, want 1", got)
	}

	if got := Streak([]bool{true, true, true, true, true}); got != duration {
		t.Errorf("streak = %d, want %d", got, duration)
	}
	if got := Streak(nil); got != 0 {
		t.Errorf("empty streak = %d", got)
	}
}
