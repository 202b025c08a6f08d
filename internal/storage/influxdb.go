// internal/storage/influxdb.go
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
)

// Storage телеметрия движка: режимы, кандидаты, расчеты SL/TP и закрытия
type Storage interface {
	SaveRegime(ctx context.Context, regime models.MarketRegime) error
	SaveCandidates(ctx context.Context, candidates []models.Candidate, at time.Time) error
	SaveQuote(ctx context.Context, quote models.RiskQuote, at time.Time) error
	SaveExit(ctx context.Context, exit ExitRecord) error
	GetRegimeHistory(ctx context.Context, limit int) ([]models.MarketRegime, error)
	Close()
}

// ExitRecord запись о закрытии позиции
type ExitRecord struct {
	Symbol string
	Side   models.Side
	Rule   string
	Reason string
	PnL    float64
	Price  float64
	Time   time.Time
}

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(ctx context.Context, cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Error("Ошибка записи в InfluxDB", zap.Error(err))
		}
	}()

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: writeAPI,
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SaveRegime сохраняет снимок рыночного режима
func (s *InfluxDBStorage) SaveRegime(_ context.Context, regime models.MarketRegime) error {
	s.writeAPI.WritePoint(regimePoint(regime))
	s.writeAPI.Flush()
	return nil
}

// SaveCandidates сохраняет ранжированных кандидатов цикла
func (s *InfluxDBStorage) SaveCandidates(_ context.Context, candidates []models.Candidate, at time.Time) error {
	for _, c := range candidates {
		s.writeAPI.WritePoint(candidatePoint(c, at))
	}
	s.writeAPI.Flush()
	return nil
}

// SaveQuote сохраняет расчет SL/TP
func (s *InfluxDBStorage) SaveQuote(_ context.Context, quote models.RiskQuote, at time.Time) error {
	s.writeAPI.WritePoint(quotePoint(quote, at))
	s.writeAPI.Flush()
	return nil
}

// SaveExit сохраняет закрытие позиции
func (s *InfluxDBStorage) SaveExit(_ context.Context, exit ExitRecord) error {
	point := influxdb2.NewPoint(
		"exits",
		map[string]string{
			"symbol": exit.Symbol,
			"side":   string(exit.Side),
			"rule":   exit.Rule,
		},
		map[string]interface{}{
			"reason": exit.Reason,
			"pnl":    exit.PnL,
			"price":  exit.Price,
		},
		exit.Time,
	)
	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()
	return nil
}

// GetRegimeHistory получает последние снимки режима
func (s *InfluxDBStorage) GetRegimeHistory(ctx context.Context, limit int) ([]models.MarketRegime, error) {
	// Формируем Flux-запрос
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -7d)
			|> filter(fn: (r) => r._measurement == "regime")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории режима: %w", err)
	}

	var history []models.MarketRegime
	for result.Next() {
		record := result.Record()

		trend, _ := record.ValueByKey("trend").(string)
		confidence, _ := record.ValueByKey("confidence").(float64)
		oneSided, _ := record.ValueByKey("one_sided").(bool)
		total, _ := record.ValueByKey("total").(int64)
		up, _ := record.ValueByKey("up").(int64)
		down, _ := record.ValueByKey("down").(int64)
		avg, _ := record.ValueByKey("average_change").(float64)
		movers, _ := record.ValueByKey("significant_movers").(int64)

		history = append(history, models.MarketRegime{
			Trend:      models.Trend(trend),
			Confidence: confidence,
			IsOneSided: oneSided,
			Summary: models.RegimeSummary{
				Total:             int(total),
				Up:                int(up),
				Down:              int(down),
				AverageChange:     avg,
				SignificantMovers: int(movers),
			},
			UpdatedAt: record.Time(),
		})
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}
	return history, nil
}

func regimePoint(r models.MarketRegime) *write.Point {
	return influxdb2.NewPoint(
		"regime",
		map[string]string{},
		map[string]interface{}{
			"trend":              string(r.Trend),
			"confidence":         r.Confidence,
			"one_sided":          r.IsOneSided,
			"total":              r.Summary.Total,
			"up":                 r.Summary.Up,
			"down":               r.Summary.Down,
			"average_change":     r.Summary.AverageChange,
			"significant_movers": r.Summary.SignificantMovers,
		},
		r.UpdatedAt,
	)
}

func candidatePoint(c models.Candidate, at time.Time) *write.Point {
	return influxdb2.NewPoint(
		"candidates",
		map[string]string{
			"symbol":    c.Symbol,
			"direction": string(c.Direction),
		},
		map[string]interface{}{
			"score":       c.Score,
			"long_score":  c.LongScore,
			"short_score": c.ShortScore,
			"price":       c.Price,
		},
		at,
	)
}

func quotePoint(q models.RiskQuote, at time.Time) *write.Point {
	return influxdb2.NewPoint(
		"quotes",
		map[string]string{
			"symbol":   q.Symbol,
			"side":     string(q.Side),
			"fallback": fmt.Sprintf("%t", q.Fallback),
		},
		map[string]interface{}{
			"entry":       q.Entry,
			"stop_loss":   q.StopLoss,
			"take_profit": q.TakeProfit,
			"atr":         q.ATR,
			"support":     q.Support,
			"resistance":  q.Resistance,
			"reward_risk": q.RewardRisk(),
		},
		at,
	)
}
