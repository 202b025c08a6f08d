package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/skalibog/futsig/internal/analysis/regime"
	"github.com/skalibog/futsig/internal/analysis/scoring"
	"github.com/skalibog/futsig/internal/risk"
	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
)

var errZeroQuantity = errors.New("объем после округления равен нулю")

// scanEntries оценивает вселенную и открывает лучшие кандидаты в пределах лимита позиций
func (e *Engine) scanEntries(ctx context.Context, universe []string) {
	slots := e.cfg.Trading.MaxPositions - e.ledger.Len()
	if slots <= 0 {
		logger.Debug("Лимит позиций исчерпан", zap.Int("open", e.ledger.Len()))
		return
	}

	var (
		mu      sync.Mutex
		scored  []models.Candidate
		history = make(map[string][]*models.Candle)
	)

	e.forEach("scan", universe, func(symbol string) error {
		if _, held := e.ledger.Get(symbol); held {
			return nil
		}
		candles, err := e.closedCandles(ctx, symbol)
		if err != nil {
			return fmt.Errorf("свечи: %w", err)
		}
		c, ok := e.scorer.Score(symbol, candles)
		if !ok {
			return nil
		}

		mu.Lock()
		scored = append(scored, c)
		history[symbol] = candles
		mu.Unlock()
		return nil
	})

	// порядок горутин недетерминирован, при равной оценке решает порядок вселенной
	idx := make(map[string]int, len(universe))
	for i, s := range universe {
		idx[s] = i
	}
	sort.Slice(scored, func(i, j int) bool { return idx[scored[i].Symbol] < idx[scored[j].Symbol] })

	longs, shorts := scoring.Rank(scored, e.cfg.Trading.TopN)
	ranked := append(longs, shorts...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	e.candidates.Store(&ranked)

	if len(ranked) == 0 {
		return
	}
	if err := e.storage.SaveCandidates(ctx, ranked, e.now()); err != nil {
		logger.Warn("Ошибка сохранения кандидатов", zap.Error(err))
	}

	current := e.Regime()
	for _, c := range ranked {
		if slots == 0 {
			break
		}
		if e.cfg.Trading.RespectRegime && regime.Blocks(current, c.Direction) {
			logger.Info("Вход заблокирован рыночным режимом",
				zap.String("symbol", c.Symbol),
				zap.String("direction", string(c.Direction)),
				zap.String("trend", string(current.Trend)))
			continue
		}
		if e.cfg.Trading.Confirm {
			sig := e.detector.Detect(c.Symbol, history[c.Symbol])
			if sig.Direction != c.Direction {
				logger.Debug("Нет подтверждения пересечением",
					zap.String("symbol", c.Symbol),
					zap.String("direction", string(c.Direction)),
					zap.Int("signal_score", sig.Score))
				continue
			}
		}

		if err := e.openPosition(ctx, c); err != nil {
			logger.Error("Ошибка открытия позиции",
				zap.String("symbol", c.Symbol),
				zap.String("direction", string(c.Direction)),
				zap.Error(err))
			e.metrics.RecordError("entry")
			continue
		}
		slots--
	}
}

func (e *Engine) openPosition(ctx context.Context, c models.Candidate) error {
	balance, err := e.exchange.GetAvailableBalance(ctx)
	if err != nil {
		return fmt.Errorf("баланс: %w", err)
	}

	price, err := e.livePrice(ctx, c.Symbol)
	if err != nil || price <= 0 {
		price = c.Price
	}
	if price <= 0 {
		return fmt.Errorf("нет цены для %s", c.Symbol)
	}

	prec, err := e.exchange.Precision(ctx, c.Symbol)
	if err != nil {
		return fmt.Errorf("точность: %w", err)
	}

	notional := balance * e.cfg.Trading.PositionRatio * e.cfg.Trading.Leverage
	qty := risk.FloorQuantity(notional/price, prec)
	if qty <= 0 {
		return errZeroQuantity
	}

	side := c.Direction.EntrySide()
	if err := e.exchange.MarketOrder(ctx, c.Symbol, side, qty); err != nil {
		logger.Error("Ордер на вход отклонен",
			zap.String("symbol", c.Symbol),
			zap.String("side", string(side)),
			zap.String("type", "MARKET"),
			zap.Float64("quantity", qty),
			zap.Float64("price", price))
		return err
	}

	logger.Info("Позиция открыта",
		zap.String("symbol", c.Symbol),
		zap.String("side", string(side)),
		zap.Float64("quantity", qty),
		zap.Float64("price", price),
		zap.Int("score", c.Score))
	e.metrics.RecordSignal(string(c.Direction))
	e.notify(ctx, entryMessage(c, side, qty, price, prec))
	return nil
}
