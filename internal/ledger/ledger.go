// Package ledger хранит локальный снимок открытых позиций,
// сверяемый с биржей полной заменой
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
)

// ErrNotFound позиция отсутствует в реестре
var ErrNotFound = errors.New("позиция не найдена")

// Store хранилище реестра: документ читается и пишется целиком
type Store interface {
	Load(ctx context.Context) (map[string]models.Position, error)
	Save(ctx context.Context, positions map[string]models.Position) error
}

// Capturer снимает EMA и среднюю линию Боллинджера на момент входа
type Capturer interface {
	Capture(ctx context.Context, symbol string) (ema, boll float64, err error)
}

// Ledger реестр позиций
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]models.Position
	store     Store
	now       func() time.Time

	// держится от изменения до записи документа: сохранения идут в порядке изменений
	saveMu sync.Mutex
}

// New создает пустой реестр поверх хранилища
func New(store Store) *Ledger {
	return &Ledger{
		positions: make(map[string]models.Position),
		store:     store,
		now:       time.Now,
	}
}

// Restore загружает реестр из хранилища
func (l *Ledger) Restore(ctx context.Context) error {
	positions, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("ошибка загрузки реестра позиций: %w", err)
	}
	if positions == nil {
		positions = make(map[string]models.Position)
	}

	l.mu.Lock()
	l.positions = positions
	l.mu.Unlock()

	logger.Info("Реестр позиций загружен", zap.Int("count", len(positions)))
	return nil
}

// Snapshot возвращает копию всех позиций, отсортированную по символу
func (l *Ledger) Snapshot() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Get возвращает позицию по символу
func (l *Ledger) Get(symbol string) (models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// Len количество открытых позиций
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Reconcile полностью заменяет реестр снимком биржи. Для позиций, уже
// известных с той же стороной, сохраняются время входа, замороженные
// EMA/BOLL и защита. Новые позиции получают снимок индикаторов через capture.
func (l *Ledger) Reconcile(ctx context.Context, snapshot []models.ExchangePosition, capture Capturer) error {
	l.mu.RLock()
	previous := make(map[string]models.Position, len(l.positions))
	for k, v := range l.positions {
		previous[k] = v
	}
	l.mu.RUnlock()

	next := make(map[string]models.Position, len(snapshot))
	for _, ep := range snapshot {
		if ep.PositionAmt == 0 {
			continue
		}

		pos := models.Position{
			Symbol:      ep.Symbol,
			Side:        models.SideFromAmount(ep.PositionAmt),
			PositionAmt: ep.PositionAmt,
			EntryPrice:  ep.EntryPrice,
			EntryTime:   ep.UpdateTime,
		}
		if pos.EntryTime.IsZero() {
			pos.EntryTime = l.now()
		}

		if old, ok := previous[ep.Symbol]; ok && old.Side == pos.Side {
			pos.EntryTime = old.EntryTime
			pos.EntryEMA = old.EntryEMA
			pos.EntryBOLL = old.EntryBOLL
			if old.PositionAmt == pos.PositionAmt && old.EntryPrice == pos.EntryPrice {
				pos.StopLoss, pos.TakeProfit, pos.Protected = old.StopLoss, old.TakeProfit, old.Protected
			}
		}

		if (pos.EntryEMA == 0 || pos.EntryBOLL == 0) && capture != nil {
			ema, boll, err := capture.Capture(ctx, pos.Symbol)
			if err != nil {
				logger.Warn("Не удалось зафиксировать EMA/BOLL входа",
					zap.String("symbol", pos.Symbol), zap.Error(err))
			} else {
				pos.EntryEMA, pos.EntryBOLL = ema, boll
			}
		}

		next[pos.Symbol] = pos
	}

	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.Lock()
	l.positions = next
	l.mu.Unlock()

	for symbol := range previous {
		if _, ok := next[symbol]; !ok {
			logger.Info("Позиция больше не сообщается биржей, удалена из реестра", zap.String("symbol", symbol))
		}
	}

	return l.persist(ctx, next)
}

// Update заменяет существующую позицию
func (l *Ledger) Update(ctx context.Context, pos models.Position) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.Lock()
	if _, ok := l.positions[pos.Symbol]; !ok {
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", pos.Symbol, ErrNotFound)
	}
	l.positions[pos.Symbol] = pos
	doc := l.copyLocked()
	l.mu.Unlock()

	return l.persist(ctx, doc)
}

// Remove удаляет позицию после закрытия
func (l *Ledger) Remove(ctx context.Context, symbol string) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.Lock()
	if _, ok := l.positions[symbol]; !ok {
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", symbol, ErrNotFound)
	}
	delete(l.positions, symbol)
	doc := l.copyLocked()
	l.mu.Unlock()

	return l.persist(ctx, doc)
}

func (l *Ledger) copyLocked() map[string]models.Position {
	doc := make(map[string]models.Position, len(l.positions))
	for k, v := range l.positions {
		doc[k] = v
	}
	return doc
}

func (l *Ledger) persist(ctx context.Context, doc map[string]models.Position) error {
	if err := l.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("ошибка сохранения реестра позиций: %w", err)
	}
	return nil
}
