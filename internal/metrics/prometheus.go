// Package metrics метрики Prometheus для торгового цикла
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder набор метрик движка
type Recorder struct {
	registry    *prometheus.Registry
	cycles      *prometheus.CounterVec
	cycleTime   prometheus.Histogram
	signals     *prometheus.CounterVec
	exits       *prometheus.CounterVec
	fallbacks   prometheus.Counter
	errorsTotal *prometheus.CounterVec
	positions   prometheus.Gauge
	confidence  *prometheus.GaugeVec
}

// New создает метрики на собственном реестре
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "futsig_cycles_total",
			Help: "Количество завершенных циклов оценки",
		}, []string{"status"}),
		cycleTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "futsig_cycle_duration_seconds",
			Help:    "Длительность цикла оценки",
			Buckets: prometheus.DefBuckets,
		}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "futsig_signals_total",
			Help: "Сигналы на вход по направлению",
		}, []string{"direction"}),
		exits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "futsig_exits_total",
			Help: "Закрытия позиций по правилу",
		}, []string{"rule"}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "futsig_pricing_fallbacks_total",
			Help: "Расчеты SL/TP в режиме фиксированного процента",
		}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "futsig_errors_total",
			Help: "Ошибки по типу",
		}, []string{"kind"}),
		positions: f.NewGauge(prometheus.GaugeOpts{
			Name: "futsig_open_positions",
			Help: "Открытые позиции в реестре",
		}),
		confidence: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "futsig_regime_confidence",
			Help: "Уверенность текущего рыночного режима",
		}, []string{"trend"}),
	}
}

// Handler HTTP обработчик /metrics
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry реестр метрик
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RecordCycle(status string, seconds float64) {
	r.cycles.WithLabelValues(status).Inc()
	r.cycleTime.Observe(seconds)
}

func (r *Recorder) RecordSignal(direction string) {
	r.signals.WithLabelValues(direction).Inc()
}

func (r *Recorder) RecordExit(rule string) {
	r.exits.WithLabelValues(rule).Inc()
}

func (r *Recorder) RecordFallback() {
	r.fallbacks.Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) SetPositions(n int) {
	r.positions.Set(float64(n))
}

// SetRegime сбрасывает прежний тренд, чтобы в метрике был один ряд
func (r *Recorder) SetRegime(trend string, confidence float64) {
	r.confidence.Reset()
	r.confidence.WithLabelValues(trend).Set(confidence)
}
