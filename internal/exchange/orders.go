package exchange

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skalibog/futsig/internal/risk"
	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
)

const clientOrderPrefix = "fs-"

func newClientOrderID() string {
	// Binance ограничивает client order id 36 символами
	id := uuid.NewString()
	return clientOrderPrefix + id[:30]
}

// MarketOrder рыночный ордер на объем qty
func (c *BinanceClient) MarketOrder(ctx context.Context, symbol string, side models.Side, qty float64) error {
	return c.market(ctx, symbol, side, qty, false)
}

// CloseMarket рыночный ордер только на уменьшение позиции: если позиция
// уже закрыта защитным ордером, биржа отклонит его, а не откроет обратную
func (c *BinanceClient) CloseMarket(ctx context.Context, symbol string, side models.Side, qty float64) error {
	return c.market(ctx, symbol, side, qty, true)
}

func (c *BinanceClient) market(ctx context.Context, symbol string, side models.Side, qty float64, reduceOnly bool) error {
	p, err := c.Precision(ctx, symbol)
	if err != nil {
		return err
	}
	quantity := risk.FormatQuantity(qty, p)

	svc := c.futures.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		NewClientOrderID(newClientOrderID())
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка рыночного ордера %s %s %s: %w", symbol, side, quantity, err)
	}

	logger.Info("Рыночный ордер отправлен",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("quantity", quantity),
		zap.Bool("reduce_only", reduceOnly),
		zap.Int64("order_id", res.OrderID))
	return nil
}

// StopMarket стоп-маркет ордер, закрывающий всю позицию
func (c *BinanceClient) StopMarket(ctx context.Context, symbol string, side models.Side, stop float64) error {
	return c.closeTrigger(ctx, symbol, side, futures.OrderTypeStopMarket, stop)
}

// TakeProfitMarket тейк-профит ордер, закрывающий всю позицию
func (c *BinanceClient) TakeProfitMarket(ctx context.Context, symbol string, side models.Side, stop float64) error {
	return c.closeTrigger(ctx, symbol, side, futures.OrderTypeTakeProfitMarket, stop)
}

func (c *BinanceClient) closeTrigger(ctx context.Context, symbol string, side models.Side, typ futures.OrderType, stop float64) error {
	p, err := c.Precision(ctx, symbol)
	if err != nil {
		return err
	}
	stopPrice := risk.FormatPrice(stop, p)

	res, err := c.futures.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(typ).
		StopPrice(stopPrice).
		ClosePosition(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка ордера %s %s %s @ %s: %w", typ, symbol, side, stopPrice, err)
	}

	logger.Info("Защитный ордер отправлен",
		zap.String("symbol", symbol),
		zap.String("type", string(typ)),
		zap.String("side", string(side)),
		zap.String("stop_price", stopPrice),
		zap.Int64("order_id", res.OrderID))
	return nil
}
