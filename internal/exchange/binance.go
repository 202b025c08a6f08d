package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
)

// BinanceClient клиент для взаимодействия с Binance USDT-M фьючерсами
type BinanceClient struct {
	futures    *futures.Client
	quoteAsset string
	precision  *PrecisionCache
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig, trading config.TradingConfig) *BinanceClient {
	futures.UseTestnet = cfg.Testnet

	c := &BinanceClient{
		futures:    futures.NewClient(cfg.APIKey, cfg.APISecret),
		quoteAsset: trading.QuoteAsset,
	}
	c.precision = NewPrecisionCache(c.loadExchangeInfo, trading.PrecisionTTL)

	logger.Info("Клиент Binance Futures создан", zap.Bool("testnet", cfg.Testnet))
	return c
}

// Precision возвращает кэш точностей символов
func (c *BinanceClient) Precision(ctx context.Context, symbol string) (models.SymbolPrecision, error) {
	return c.precision.Get(ctx, symbol)
}

// GetKlines получает исторические свечи
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей %s: %w", symbol, err)
	}

	candles := make([]*models.Candle, 0, len(klines))
	for _, k := range klines {
		var p floatParser
		candle := &models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      p.parse(k.Open),
			High:      p.parse(k.High),
			Low:       p.parse(k.Low),
			Close:     p.parse(k.Close),
			Volume:    p.parse(k.Volume),
			CloseTime: time.UnixMilli(k.CloseTime),
		}
		if p.err != nil {
			return nil, fmt.Errorf("ошибка разбора свечи %s: %w", symbol, p.err)
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// GetPrice получает последнюю цену символа
func (c *BinanceClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.futures.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения цены %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			v, err := strconv.ParseFloat(p.Price, 64)
			if err != nil {
				return 0, fmt.Errorf("ошибка разбора цены %s: %w", symbol, err)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("цена %s не найдена", symbol)
}

// GetPriceChanges получает 24-часовые изменения цен одним запросом
// для всех символов, отфильтрованных по списку
func (c *BinanceClient) GetPriceChanges(ctx context.Context, symbols []string) ([]models.PriceChange, error) {
	stats, err := c.futures.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики 24h: %w", err)
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}

	changes := make([]models.PriceChange, 0, len(symbols))
	for _, st := range stats {
		if _, ok := wanted[st.Symbol]; !ok {
			continue
		}
		pct, err := strconv.ParseFloat(st.PriceChangePercent, 64)
		if err != nil {
			logger.Debug("Пропущена статистика символа", zap.String("symbol", st.Symbol), zap.Error(err))
			continue
		}
		changes = append(changes, models.PriceChange{Symbol: st.Symbol, ChangePercent: pct})
	}
	return changes, nil
}

// GetPositions получает все ненулевые позиции аккаунта
func (c *BinanceClient) GetPositions(ctx context.Context) ([]models.ExchangePosition, error) {
	account, err := c.futures.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения аккаунта: %w", err)
	}

	var positions []models.ExchangePosition
	for _, ap := range account.Positions {
		var p floatParser
		amt := p.parse(ap.PositionAmt)
		entry := p.parse(ap.EntryPrice)
		if p.err != nil {
			logger.Warn("Ошибка разбора позиции", zap.String("symbol", ap.Symbol), zap.Error(p.err))
			continue
		}
		if amt == 0 {
			continue
		}

		pos := models.ExchangePosition{Symbol: ap.Symbol, PositionAmt: amt, EntryPrice: entry}
		if ap.UpdateTime > 0 {
			pos.UpdateTime = time.UnixMilli(ap.UpdateTime)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetAvailableBalance доступный баланс в котируемом активе
func (c *BinanceClient) GetAvailableBalance(ctx context.Context) (float64, error) {
	account, err := c.futures.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения аккаунта: %w", err)
	}
	for _, a := range account.Assets {
		if a.Asset == c.quoteAsset {
			v, err := strconv.ParseFloat(a.AvailableBalance, 64)
			if err != nil {
				return 0, fmt.Errorf("ошибка разбора баланса: %w", err)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("актив %s не найден в аккаунте", c.quoteAsset)
}

// GetSymbols возвращает торгуемые бессрочные контракты в котируемом активе
func (c *BinanceClient) GetSymbols(ctx context.Context) ([]string, error) {
	return c.precision.Symbols(ctx)
}

func (c *BinanceClient) loadExchangeInfo(ctx context.Context) (map[string]models.SymbolPrecision, []string, error) {
	info, err := c.futures.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка получения exchange info: %w", err)
	}

	table := make(map[string]models.SymbolPrecision, len(info.Symbols))
	var tradable []string
	for _, s := range info.Symbols {
		p := models.SymbolPrecision{
			Symbol:            s.Symbol,
			PricePrecision:    int32(s.PricePrecision),
			QuantityPrecision: int32(s.QuantityPrecision),
		}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				p.TickSize = filterFloat(f, "tickSize")
			case "LOT_SIZE":
				p.StepSize = filterFloat(f, "stepSize")
			}
		}
		table[s.Symbol] = p

		if s.Status == "TRADING" && s.QuoteAsset == c.quoteAsset &&
			strings.EqualFold(string(s.ContractType), "PERPETUAL") {
			tradable = append(tradable, s.Symbol)
		}
	}
	return table, tradable, nil
}

func filterFloat(f map[string]interface{}, key string) float64 {
	s, ok := f[key].(string)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// floatParser запоминает первую ошибку разбора
type floatParser struct {
	err error
}

func (p *floatParser) parse(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}
