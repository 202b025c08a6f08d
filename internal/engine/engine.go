// Package engine выполняет торговый цикл: режим рынка, сверка позиций,
// защита, выходы и поиск входов
package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/futsig/internal/analysis/regime"
	"github.com/skalibog/futsig/internal/analysis/scoring"
	"github.com/skalibog/futsig/internal/analysis/signal"
	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/internal/exit"
	"github.com/skalibog/futsig/internal/ledger"
	"github.com/skalibog/futsig/internal/metrics"
	"github.com/skalibog/futsig/internal/notify"
	"github.com/skalibog/futsig/internal/risk"
	"github.com/skalibog/futsig/internal/storage"
	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
)

// Exchange все, что движку нужно от биржи
type Exchange interface {
	risk.CandleProvider
	risk.PriceProvider
	risk.PrecisionProvider
	GetPriceChanges(ctx context.Context, symbols []string) ([]models.PriceChange, error)
	GetPositions(ctx context.Context) ([]models.ExchangePosition, error)
	GetAvailableBalance(ctx context.Context) (float64, error)
	GetSymbols(ctx context.Context) ([]string, error)
	OrderSubmitter
}

// OrderSubmitter отправка ордеров
type OrderSubmitter interface {
	MarketOrder(ctx context.Context, symbol string, side models.Side, qty float64) error
	CloseMarket(ctx context.Context, symbol string, side models.Side, qty float64) error
	StopMarket(ctx context.Context, symbol string, side models.Side, stop float64) error
	TakeProfitMarket(ctx context.Context, symbol string, side models.Side, stop float64) error
}

// Deps внешние зависимости движка
type Deps struct {
	Exchange Exchange
	Ledger   *ledger.Ledger
	Notifier notify.Notifier
	Storage  storage.Storage
	Metrics  *metrics.Recorder
}

// Status снимок состояния для API и терминала
type Status struct {
	Regime     models.MarketRegime `json:"regime"`
	Positions  []models.Position   `json:"positions"`
	Candidates []models.Candidate  `json:"candidates"`
	LastCycle  time.Time           `json:"last_cycle"`
	Universe   int                 `json:"universe"`
}

// Engine торговый движок
type Engine struct {
	cfg *config.Config

	exchange Exchange
	ledger   *ledger.Ledger
	notifier notify.Notifier
	storage  storage.Storage
	metrics  *metrics.Recorder

	detector   *signal.Detector
	scorer     *scoring.Scorer
	classifier *regime.Classifier
	pricer     *risk.Engine
	exits      *exit.Engine

	cycleMu    sync.Mutex
	regime     atomic.Pointer[models.MarketRegime]
	candidates atomic.Pointer[[]models.Candidate]
	lastCycle  atomic.Pointer[time.Time]
	universe   atomic.Int64

	now func() time.Time
}

// New создает движок
func New(cfg *config.Config, deps Deps) *Engine {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Storage == nil {
		deps.Storage = storage.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	e := &Engine{
		cfg:        cfg,
		exchange:   deps.Exchange,
		ledger:     deps.Ledger,
		notifier:   deps.Notifier,
		storage:    deps.Storage,
		metrics:    deps.Metrics,
		detector:   signal.NewDetector(cfg.Signal),
		scorer:     scoring.NewScorer(cfg.Scoring),
		classifier: regime.NewClassifier(cfg.Regime),
		pricer:     risk.NewEngine(cfg.Risk, deps.Exchange, deps.Exchange, deps.Exchange),
		exits:      exit.NewEngine(cfg.Exit, cfg.Sideways),
		now:        time.Now,
	}
	e.regime.Store(&models.MarketRegime{Trend: models.TrendNeutral})
	return e
}

// Run запускает циклы до отмены контекста. Следующий цикл не начинается,
// пока не завершится предыдущий.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Trading.CycleInterval)
	defer ticker.Stop()

	logger.Info("Торговый цикл запущен",
		zap.Duration("interval", e.cfg.Trading.CycleInterval),
		zap.Strings("exit_rules", e.exits.Rules()))

	for {
		if err := e.RunCycle(ctx); err != nil {
			logger.Error("Ошибка цикла", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			logger.Info("Торговый цикл остановлен")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle выполняет один полный цикл
func (e *Engine) RunCycle(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := e.now()
	status := "ok"
	defer func() {
		e.metrics.RecordCycle(status, e.now().Sub(start).Seconds())
		t := e.now()
		e.lastCycle.Store(&t)
	}()

	universe, err := e.resolveUniverse(ctx)
	if err != nil {
		status = "error"
		return err
	}
	e.universe.Store(int64(len(universe)))

	e.refreshRegime(ctx, universe)
	e.reconcile(ctx)
	e.protect(ctx)
	e.evaluateExits(ctx)

	if e.cfg.Trading.EntryEnabled {
		e.scanEntries(ctx, universe)
	}

	e.metrics.SetPositions(e.ledger.Len())
	logger.Debug("Цикл завершен", zap.Duration("took", e.now().Sub(start)))
	return nil
}

// Regime текущий снимок режима
func (e *Engine) Regime() models.MarketRegime {
	return *e.regime.Load()
}

// Status снимок состояния движка
func (e *Engine) Status() Status {
	s := Status{
		Regime:    e.Regime(),
		Positions: e.ledger.Snapshot(),
		Universe:  int(e.universe.Load()),
	}
	if c := e.candidates.Load(); c != nil {
		s.Candidates = *c
	}
	if t := e.lastCycle.Load(); t != nil {
		s.LastCycle = *t
	}
	return s
}

func (e *Engine) resolveUniverse(ctx context.Context) ([]string, error) {
	symbols := e.cfg.Trading.Symbols
	if len(symbols) == 0 {
		var err error
		symbols, err = e.exchange.GetSymbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения списка символов: %w", err)
		}
	}

	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !slices.Contains(e.cfg.Trading.Exclude, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (e *Engine) refreshRegime(ctx context.Context, universe []string) {
	current := e.regime.Load()
	if !current.UpdatedAt.IsZero() && e.now().Sub(current.UpdatedAt) < e.cfg.Regime.Interval {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.Trading.FetchTimeout)
	defer cancel()

	changes, err := e.exchange.GetPriceChanges(fetchCtx, universe)
	if err != nil {
		logger.Warn("Режим рынка не обновлен", zap.Error(err))
		e.metrics.RecordError("regime")
		return
	}

	r := e.classifier.Classify(changes)
	e.regime.Store(&r)
	e.metrics.SetRegime(string(r.Trend), r.Confidence)

	if err := e.storage.SaveRegime(ctx, r); err != nil {
		logger.Warn("Ошибка сохранения режима", zap.Error(err))
	}

	if r.Trend != current.Trend {
		logger.Info("Рыночный режим изменился",
			zap.String("from", string(current.Trend)),
			zap.String("to", string(r.Trend)),
			zap.Float64("confidence", r.Confidence),
			zap.Bool("one_sided", r.IsOneSided))
	}
}

func (e *Engine) reconcile(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.Trading.FetchTimeout)
	defer cancel()

	positions, err := e.exchange.GetPositions(fetchCtx)
	if err != nil {
		logger.Warn("Сверка позиций пропущена, используется прежний реестр", zap.Error(err))
		e.metrics.RecordError("reconcile")
		return
	}

	if err := e.ledger.Reconcile(ctx, positions, capturer{e}); err != nil {
		logger.Error("Ошибка сверки реестра", zap.Error(err))
		e.metrics.RecordError("reconcile")
	}
}

// forEach выполняет fn для каждого символа с ограничением параллелизма.
// Ошибка или паника одного символа не влияет на остальные.
func (e *Engine) forEach(stage string, symbols []string, fn func(symbol string) error) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Trading.Concurrency)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Паника при обработке символа",
						zap.String("stage", stage),
						zap.String("symbol", symbol),
						zap.Any("panic", r))
					e.metrics.RecordError("panic")
				}
			}()

			if err := fn(symbol); err != nil {
				logger.Warn("Символ пропущен",
					zap.String("stage", stage),
					zap.String("symbol", symbol),
					zap.Error(err))
				e.metrics.RecordError(stage)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// closedCandles свечи без последней незакрытой, с таймаутом на запрос
func (e *Engine) closedCandles(ctx context.Context, symbol string) ([]*models.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Trading.FetchTimeout)
	defer cancel()

	candles, err := e.exchange.GetKlines(ctx, symbol, e.cfg.Trading.Interval, e.cfg.Trading.CandleLimit)
	if err != nil {
		return nil, err
	}
	return models.ClosedCandles(candles), nil
}

func (e *Engine) livePrice(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Trading.FetchTimeout)
	defer cancel()
	return e.exchange.GetPrice(ctx, symbol)
}

func (e *Engine) notify(ctx context.Context, text string) {
	if err := e.notifier.Notify(ctx, text); err != nil {
		logger.Warn("Уведомление не доставлено", zap.Error(err))
		e.metrics.RecordError("notify")
	}
}
