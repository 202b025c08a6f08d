package storage

import (
	"context"
	"time"

	"github.com/skalibog/futsig/pkg/models"
)

// Nop хранилище-заглушка, когда InfluxDB отключен
type Nop struct{}

func (Nop) SaveRegime(context.Context, models.MarketRegime) error { return nil }

func (Nop) SaveCandidates(context.Context, []models.Candidate, time.Time) error { return nil }

func (Nop) SaveQuote(context.Context, models.RiskQuote, time.Time) error { return nil }

func (Nop) SaveExit(context.Context, ExitRecord) error { return nil }

func (Nop) GetRegimeHistory(context.Context, int) ([]models.MarketRegime, error) { return nil, nil }

func (Nop) Close() {}
