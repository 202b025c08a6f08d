package exit

import (
	"time"

	"github.com/skalibog/futsig/internal/analysis/sideways"
	"github.com/skalibog/futsig/internal/config"
)

// Decision результат проверки позиции
type Decision struct {
	Close  bool
	Rule   string
	Reason string
}

// Engine упорядоченный список правил
type Engine struct {
	rules []Rule
}

// NewEngine собирает правила в порядке приоритета
func NewEngine(cfg config.ExitConfig, sw config.SidewaysConfig) *Engine {
	rules := []Rule{
		StopLoss{Rate: cfg.StopLossRate},
		Breakdown{},
	}
	if sw.Enabled {
		rules = append(rules, Sideways{Detector: sideways.NewDetector(sw)})
	}
	rules = append(rules,
		Volatility{Window: cfg.VolatilityWindow, Threshold: cfg.VolatilityThreshold},
		TimeDecay{
			MinHolding:    time.Duration(cfg.MinHoldingMinutes) * time.Minute,
			MinProfitRate: cfg.MinProfitRate,
			LooseHolding:  time.Duration(cfg.LooseHoldingMinutes) * time.Minute,
			LooseProfit:   cfg.LooseProfitRate,
		},
	)
	return NewEngineWithRules(rules...)
}

// NewEngineWithRules создает движок с явным списком правил
func NewEngineWithRules(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Rules возвращает имена правил в порядке проверки
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Decide возвращает решение первого сработавшего правила
func (e *Engine) Decide(in Input) Decision {
	for _, r := range e.rules {
		if reason, ok := r.Evaluate(in); ok {
			return Decision{Close: true, Rule: r.Name(), Reason: reason}
		}
	}
	return Decision{}
}
