package risk

import (
	"github.com/shopspring/decimal"

	"github.com/skalibog/futsig/pkg/models"
)

// RoundPrice округляет цену к шагу тика, а без него к PricePrecision знакам
func RoundPrice(v float64, p models.SymbolPrecision) float64 {
	d := decimal.NewFromFloat(v)
	if p.TickSize > 0 {
		tick := decimal.NewFromFloat(p.TickSize)
		return d.Div(tick).Round(0).Mul(tick).InexactFloat64()
	}
	return d.Round(p.PricePrecision).InexactFloat64()
}

// FloorQuantity округляет объем вниз к шагу лота, чтобы не превысить доступный баланс
func FloorQuantity(v float64, p models.SymbolPrecision) float64 {
	d := decimal.NewFromFloat(v)
	if p.StepSize > 0 {
		step := decimal.NewFromFloat(p.StepSize)
		return d.Div(step).Floor().Mul(step).InexactFloat64()
	}
	return d.Truncate(p.QuantityPrecision).InexactFloat64()
}

// FormatPrice строковое представление цены для ордера
func FormatPrice(v float64, p models.SymbolPrecision) string {
	return decimal.NewFromFloat(RoundPrice(v, p)).StringFixed(p.PricePrecision)
}

// FormatQuantity строковое представление объема для ордера
func FormatQuantity(v float64, p models.SymbolPrecision) string {
	return decimal.NewFromFloat(FloorQuantity(v, p)).StringFixed(p.QuantityPrecision)
}
