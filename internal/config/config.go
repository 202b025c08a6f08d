package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/skalibog/futsig/pkg/logger"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	Trading  TradingConfig  `yaml:"trading"`
	Signal   SignalConfig   `yaml:"signal"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Regime   RegimeConfig   `yaml:"regime"`
	Sideways SidewaysConfig `yaml:"sideways"`
	Risk     RiskConfig     `yaml:"risk"`
	Exit     ExitConfig     `yaml:"exit"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Storage  StorageConfig  `yaml:"storage"`
	Telegram TelegramConfig `yaml:"telegram"`
	Status   StatusConfig   `yaml:"status"`
	UI       UIConfig       `yaml:"ui"`
	Log      LogConfig      `yaml:"log"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки торгового цикла
type TradingConfig struct {
	Symbols       []string      `yaml:"symbols"`
	Exclude       []string      `yaml:"exclude"`
	QuoteAsset    string        `yaml:"quote_asset" default:"USDT" validate:"required"`
	Interval      string        `yaml:"interval" default:"15m" validate:"required"`
	CandleLimit   int           `yaml:"candle_limit" default:"100" validate:"gte=30"`
	CycleInterval time.Duration `yaml:"cycle_interval" default:"1m" validate:"gt=0"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" default:"10s" validate:"gt=0"`
	Concurrency   int           `yaml:"concurrency" default:"8" validate:"gte=1"`
	EntryEnabled  bool          `yaml:"entry_enabled" default:"true"`
	PositionRatio float64       `yaml:"position_ratio" default:"0.1" validate:"gt=0,lte=1"`
	Leverage      float64       `yaml:"leverage" default:"1" validate:"gte=1"`
	MaxPositions  int           `yaml:"max_positions" default:"3" validate:"gte=0"`
	TopN          int           `yaml:"top_n" default:"3" validate:"gte=1"`
	Confirm       bool          `yaml:"confirm_with_cross" default:"true"`
	RespectRegime bool          `yaml:"respect_regime" default:"true"`
	PrecisionTTL  time.Duration `yaml:"precision_ttl" default:"6h" validate:"gt=0"`
}

// SignalConfig настройки детектора пересечений
type SignalConfig struct {
	ShortEMA      int     `yaml:"short_ema" default:"9" validate:"gte=2"`
	LongEMA       int     `yaml:"long_ema" default:"21" validate:"gte=3"`
	BollPeriod    int     `yaml:"boll_period" default:"20" validate:"gte=2"`
	BollStdDev    float64 `yaml:"boll_stddev" default:"2" validate:"gt=0"`
	RecentCandles int     `yaml:"recent_candles" default:"3" validate:"gte=1"`
	ChopWindow    int     `yaml:"chop_window" default:"6" validate:"gte=1"`
	ChopCount     int     `yaml:"chop_count" default:"3" validate:"gte=1"`
	Margin        int     `yaml:"margin" default:"5" validate:"gte=0"`
}

// ScoringConfig настройки многофакторной оценки
type ScoringConfig struct {
	MinCandles      int     `yaml:"min_candles" default:"30" validate:"gte=30"`
	MinScore        int     `yaml:"min_score" default:"3" validate:"gte=1,lte=5"`
	FastEMA         int     `yaml:"fast_ema" default:"5" validate:"gte=2"`
	SlowEMA         int     `yaml:"slow_ema" default:"13" validate:"gte=3"`
	BollPeriod      int     `yaml:"boll_period" default:"20" validate:"gte=2"`
	BollStdDev      float64 `yaml:"boll_stddev" default:"2" validate:"gt=0"`
	EMASpreadMargin float64 `yaml:"ema_spread_margin" validate:"gte=0"`
	FlatWindow      int     `yaml:"flat_window" default:"20" validate:"gte=2"`
	FlatThreshold   float64 `yaml:"flat_threshold" default:"0.005" validate:"gte=0"`
}

// RegimeConfig настройки классификатора рыночного режима
type RegimeConfig struct {
	Interval         time.Duration `yaml:"interval" default:"5m" validate:"gt=0"`
	StrongRatio      float64       `yaml:"strong_ratio" default:"0.85" validate:"gt=0,lte=1"`
	TrendRatio       float64       `yaml:"trend_ratio" default:"0.7" validate:"gt=0,lte=1"`
	MeanChange       float64       `yaml:"mean_change" default:"0.5" validate:"gte=0"`
	SignificantRatio float64       `yaml:"significant_ratio" default:"0.6" validate:"gte=0,lte=1"`
	SignificantMove  float64       `yaml:"significant_move" default:"1" validate:"gte=0"`
}

// SidewaysConfig настройки детектора боковика
type SidewaysConfig struct {
	Enabled             bool    `yaml:"enabled" default:"true"`
	PriceStdPeriod      int     `yaml:"price_std_period" default:"10" validate:"gte=2"`
	PriceStdThreshold   float64 `yaml:"price_std_threshold" default:"0.003" validate:"gt=0"`
	BollNarrowPeriod    int     `yaml:"boll_narrow_period" default:"20" validate:"gte=2"`
	BollNarrowThreshold float64 `yaml:"boll_narrow_threshold" default:"0.01" validate:"gt=0"`
	MinDuration         int     `yaml:"min_duration" default:"5" validate:"gte=1"`
}

// RiskConfig настройки динамического расчета SL/TP
type RiskConfig struct {
	Interval       string        `yaml:"interval" default:"15m" validate:"required"`
	ATRPeriod      int           `yaml:"atr_period" default:"14" validate:"gte=1"`
	LevelsLookback int           `yaml:"levels_lookback" default:"50" validate:"gte=2"`
	LevelBand      float64       `yaml:"level_band" default:"0.005" validate:"gt=0"`
	LevelBuffer    float64       `yaml:"level_buffer" default:"0.005" validate:"gte=0"`
	TPMultiplier   float64       `yaml:"tp_multiplier" default:"2" validate:"gt=0"`
	SLMultiplier   float64       `yaml:"sl_multiplier" default:"1.2" validate:"gt=0"`
	MinDistance    float64       `yaml:"min_distance" default:"0.01" validate:"gte=0"`
	MinRewardRisk  float64       `yaml:"min_reward_risk" default:"1.5" validate:"gt=0"`
	SanityPct      float64       `yaml:"sanity_pct" default:"0.02" validate:"gt=0"`
	FallbackProfit float64       `yaml:"fallback_profit" default:"0.02" validate:"gt=0"`
	FallbackLoss   float64       `yaml:"fallback_loss" default:"0.01" validate:"gt=0"`
	LiveBuffer     float64       `yaml:"live_buffer" default:"0.005" validate:"gt=0"`
	Timeout        time.Duration `yaml:"timeout" default:"10s" validate:"gt=0"`
}

// ExitConfig настройки правил выхода
type ExitConfig struct {
	StopLossRate        float64 `yaml:"stop_loss_rate" validate:"gte=0"`
	EMAPeriod           int     `yaml:"ema_period" default:"21" validate:"gte=2"`
	BollPeriod          int     `yaml:"boll_period" default:"20" validate:"gte=2"`
	BollStdDev          float64 `yaml:"boll_stddev" default:"2" validate:"gt=0"`
	VolatilityWindow    int     `yaml:"volatility_window" default:"5" validate:"gte=1"`
	VolatilityThreshold float64 `yaml:"volatility_threshold" default:"0.001" validate:"gte=0"`
	MinHoldingMinutes   int     `yaml:"min_holding_minutes" default:"30" validate:"gte=0"`
	MinProfitRate       float64 `yaml:"min_profit_rate" default:"0.005"`
	LooseHoldingMinutes int     `yaml:"loose_holding_minutes" default:"15" validate:"gte=0"`
	LooseProfitRate     float64 `yaml:"loose_profit_rate" default:"0.01"`
}

// LedgerConfig настройки хранилища реестра позиций
type LedgerConfig struct {
	Backend       string `yaml:"backend" default:"file" validate:"oneof=file redis"`
	Path          string `yaml:"path" default:"data/positions.json"`
	RedisAddr     string `yaml:"redis_addr" default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
	RedisKey      string `yaml:"redis_key" default:"futsig:positions"`
}

// StorageConfig настройки хранения телеметрии
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url" default:"http://localhost:8086"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization" default:"futsig"`
	Bucket       string `yaml:"bucket" default:"futsig"`
}

// TelegramConfig настройки уведомлений
type TelegramConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Token    string        `yaml:"token"`
	ChatID   string        `yaml:"chat_id"`
	Retries  int           `yaml:"retries" default:"3" validate:"gte=1"`
	Timeout  time.Duration `yaml:"timeout" default:"10s" validate:"gt=0"`
	Endpoint string        `yaml:"endpoint" default:"https://api.telegram.org"`
}

// StatusConfig настройки HTTP сервера статуса
type StatusConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Addr    string `yaml:"addr" default:":8080"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms" default:"1000" validate:"gte=100"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	File       string `yaml:"file" default:"logs/futsig.json.log"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"50" validate:"gte=1"`
	MaxBackups int    `yaml:"max_backups" default:"5" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" default:"7" validate:"gte=0"`
	Console    bool   `yaml:"console" default:"true"`
}

// Load загружает конфигурацию из файла, подставляет значения по умолчанию,
// секреты из окружения (.env) и проверяет результат
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Не удалось загрузить .env", zap.Error(err))
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path))
	logger.Info("Загружена конфигурация", zap.Strings("symbols", cfg.Trading.Symbols))
	return cfg, nil
}

// Parse разбирает YAML, применяет значения по умолчанию и переменные окружения
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка установки значений по умолчанию: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Binance.APIKey, "BINANCE_API_KEY")
	setString(&c.Binance.APISecret, "BINANCE_API_SECRET")
	setString(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&c.Storage.Token, "INFLUXDB_TOKEN")
	setString(&c.Ledger.RedisPassword, "REDIS_PASSWORD")

	if v, ok := os.LookupEnv("BINANCE_TESTNET"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Binance.Testnet = b
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate проверяет теги и взаимные ограничения параметров
func (c *Config) Validate() error {
	var err error

	if verr := validator.New().Struct(c); verr != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(verr, &fieldErrs) {
			for _, fe := range fieldErrs {
				err = multierr.Append(err, fmt.Errorf("%s: нарушено правило %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
		} else {
			err = multierr.Append(err, verr)
		}
	}

	if c.Signal.ShortEMA >= c.Signal.LongEMA {
		err = multierr.Append(err, fmt.Errorf("signal.short_ema (%d) должен быть меньше signal.long_ema (%d)", c.Signal.ShortEMA, c.Signal.LongEMA))
	}
	if c.Scoring.FastEMA >= c.Scoring.SlowEMA {
		err = multierr.Append(err, fmt.Errorf("scoring.fast_ema (%d) должен быть меньше scoring.slow_ema (%d)", c.Scoring.FastEMA, c.Scoring.SlowEMA))
	}
	if c.Regime.TrendRatio > c.Regime.StrongRatio {
		err = multierr.Append(err, fmt.Errorf("regime.trend_ratio не может превышать regime.strong_ratio"))
	}
	if c.Trading.CandleLimit <= c.Signal.MinCandles() {
		err = multierr.Append(err, fmt.Errorf("trading.candle_limit (%d) должен превышать минимум детектора (%d)", c.Trading.CandleLimit, c.Signal.MinCandles()))
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == "") {
		err = multierr.Append(err, errors.New("telegram: требуются token и chat_id"))
	}
	if c.Storage.Enabled && c.Storage.Token == "" {
		err = multierr.Append(err, errors.New("storage: требуется token"))
	}

	if err != nil {
		return fmt.Errorf("некорректная конфигурация: %w", err)
	}
	return nil
}

// MinCandles минимальная длина истории для детектора пересечений
func (s SignalConfig) MinCandles() int {
	return max(s.LongEMA, s.BollPeriod, s.ChopWindow) + s.Margin
}
