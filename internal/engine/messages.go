package engine

import (
	"fmt"
	"html"
	"strings"

	"github.com/skalibog/futsig/internal/exit"
	"github.com/skalibog/futsig/internal/risk"
	"github.com/skalibog/futsig/pkg/models"
)

// Сообщения уходят в Telegram с parse_mode=HTML, подставляемый текст экранируется

func entryMessage(c models.Candidate, side models.Side, qty, price float64, prec models.SymbolPrecision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s %s</b>\n", directionIcon(c.Direction), html.EscapeString(c.Symbol))
	fmt.Fprintf(&b, "Вход: %s %s @ %s\n", side, risk.FormatQuantity(qty, prec), risk.FormatPrice(price, prec))
	fmt.Fprintf(&b, "Оценка: %d (long %d / short %d)", c.Score, c.LongScore, c.ShortScore)
	return b.String()
}

func exitMessage(pos models.Position, d exit.Decision, in exit.Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Закрыта %s %s</b>\n", html.EscapeString(pos.Symbol), pos.Side)
	fmt.Fprintf(&b, "Правило: %s\n", html.EscapeString(d.Rule))
	fmt.Fprintf(&b, "Причина: %s\n", html.EscapeString(d.Reason))
	fmt.Fprintf(&b, "Вход %.8g, цена %.8g, PnL %.2f%%", pos.EntryPrice, in.Price, in.PnL*100)
	return b.String()
}

func fallbackMessage(q models.RiskQuote) string {
	return fmt.Sprintf("⚠️ %s: SL/TP рассчитаны по запасной схеме (SL %.8g, TP %.8g)",
		html.EscapeString(q.Symbol), q.StopLoss, q.TakeProfit)
}

func directionIcon(d models.Direction) string {
	switch d {
	case models.DirectionLong:
		return "🟢 LONG"
	case models.DirectionShort:
		return "🔴 SHORT"
	}
	return string(d)
}
