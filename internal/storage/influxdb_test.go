package storage

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/skalibog/futsig/pkg/models"
)

var _ Storage = (*InfluxDBStorage)(nil)
var _ Storage = Nop{}

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestQuotePoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	q := models.RiskQuote{Symbol: "BTCUSDT", Side: models.SideBuy, Entry: 100, StopLoss: 97.6, TakeProfit: 104, Fallback: true}

	p := quotePoint(q, at)
	if p.Name() != "quotes" || !p.Time().Equal(at) {
		t.Fatalf("point = %s @ %v", p.Name(), p.Time())
	}
	tg := tags(p)
	if tg["symbol"] != "BTCUSDT" || tg["side"] != "BUY" || tg["fallback"] != "true" {
		t.Errorf("tags = %v", tg)
	}
	if f := fields(p); f["take_profit"] != 104.0 {
		t.Errorf("fields = %v", f)
	}
}

func TestCandidatePoint(t *testing.T) {
	p := candidatePoint(models.Candidate{Symbol: "ETHUSDT", Direction: models.DirectionShort, Score: 4}, time.Now())
	if p.Name() != "candidates" || tags(p)["direction"] != "SHORT" {
		t.Fatalf("point = %s %v", p.Name(), tags(p))
	}
}

func TestRegimePoint(t *testing.T) {
	r := models.MarketRegime{Trend: models.TrendStrongBullish, Confidence: 95, IsOneSided: true}
	f := fields(regimePoint(r))
	if f["trend"] != "strong_bullish" || f["one_sided"] != true {
		t.Fatalf("fields = %v", f)
	}
}
