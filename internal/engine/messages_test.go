package engine

import (
	"strings"
	"testing"

	"github.com/skalibog/futsig/internal/exit"
	"github.com/skalibog/futsig/pkg/models"
)

func TestExitMessageEscapesReason(t *testing.T) {
	pos := models.Position{Symbol: "AUSDT", Side: models.SideBuy, EntryPrice: 100}
	d := exit.Decision{Close: true, Rule: "time-decay", Reason: "time-decay: held 30h0m0s, pnl -0.0100 < 0.0050"}
	in := exit.Input{Position: pos, Price: 99, PnL: -0.01}

	msg := exitMessage(pos, d, in)
	if !strings.Contains(msg, "pnl -0.0100 &lt; 0.0050") {
		t.Fatalf("reason not escaped: %q", msg)
	}
	if strings.Count(msg, "<") != strings.Count(msg, ">") || !strings.Contains(msg, "<b>Закрыта AUSDT BUY</b>") {
		t.Errorf("only markup tags may stay unescaped: %q", msg)
	}
}

func TestEntryAndFallbackMessagesEscapeSymbol(t *testing.T) {
	prec := models.SymbolPrecision{PricePrecision: 2, QuantityPrecision: 3, TickSize: 0.01, StepSize: 0.001}
	c := models.Candidate{Symbol: "A<B>USDT", Direction: models.DirectionLong, Score: 4}

	if msg := entryMessage(c, models.SideBuy, 0.4, 250, prec); !strings.Contains(msg, "A&lt;B&gt;USDT") {
		t.Errorf("entry message: %q", msg)
	}
	q := models.RiskQuote{Symbol: "A&BUSDT", StopLoss: 95, TakeProfit: 110, Fallback: true}
	if msg := fallbackMessage(q); !strings.Contains(msg, "A&amp;BUSDT") {
		t.Errorf("fallback message: %q", msg)
	}
}
