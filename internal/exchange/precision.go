package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
)

// LoadFunc загружает таблицу точностей и список торгуемых символов
type LoadFunc func(ctx context.Context) (map[string]models.SymbolPrecision, []string, error)

// PrecisionCache кэш точностей и вселенной символов с временем жизни
type PrecisionCache struct {
	mu       sync.RWMutex
	load     LoadFunc
	ttl      time.Duration
	table    map[string]models.SymbolPrecision
	symbols  []string
	loadedAt time.Time
	now      func() time.Time
}

// NewPrecisionCache создает кэш
func NewPrecisionCache(load LoadFunc, ttl time.Duration) *PrecisionCache {
	return &PrecisionCache{load: load, ttl: ttl, now: time.Now}
}

// Get возвращает точность символа, при необходимости обновляя таблицу
func (c *PrecisionCache) Get(ctx context.Context, symbol string) (models.SymbolPrecision, error) {
	if err := c.refresh(ctx); err != nil {
		return models.SymbolPrecision{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.table[symbol]
	if !ok {
		return models.SymbolPrecision{}, fmt.Errorf("символ %s отсутствует в exchange info", symbol)
	}
	return p, nil
}

// Symbols возвращает отсортированный список торгуемых символов
func (c *PrecisionCache) Symbols(ctx context.Context) ([]string, error) {
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := append([]string(nil), c.symbols...)
	return out, nil
}

func (c *PrecisionCache) refresh(ctx context.Context) error {
	c.mu.RLock()
	fresh := c.table != nil && c.now().Sub(c.loadedAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	table, symbols, err := c.load(ctx)
	if err != nil {
		c.mu.RLock()
		stale := c.table != nil
		c.mu.RUnlock()
		if stale {
			logger.Warn("Не удалось обновить exchange info, используется старая таблица", zap.Error(err))
			return nil
		}
		return err
	}
	sort.Strings(symbols)

	c.mu.Lock()
	c.table, c.symbols, c.loadedAt = table, symbols, c.now()
	c.mu.Unlock()

	logger.Debug("Таблица точностей обновлена", zap.Int("symbols", len(table)))
	return nil
}
