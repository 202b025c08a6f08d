package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/internal/engine"
	"github.com/skalibog/futsig/internal/exchange"
	"github.com/skalibog/futsig/internal/ledger"
	"github.com/skalibog/futsig/internal/metrics"
	"github.com/skalibog/futsig/internal/notify"
	"github.com/skalibog/futsig/internal/server"
	"github.com/skalibog/futsig/internal/storage"
	"github.com/skalibog/futsig/internal/ui"
	"github.com/skalibog/futsig/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// в режиме терминального интерфейса консольный вывод ломает экран
	logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    cfg.Log.Console && !cfg.UI.Enabled,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Работа завершена с ошибкой", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Работа завершена")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Info("Запуск futsig",
		zap.Bool("testnet", cfg.Binance.Testnet),
		zap.String("interval", cfg.Trading.Interval),
		zap.Strings("symbols", cfg.Trading.Symbols),
		zap.Bool("entries", cfg.Trading.EntryEnabled))

	client := exchange.NewBinanceClient(cfg.Binance, cfg.Trading)

	store, closeStore, err := newLedgerStore(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer closeStore()

	positions := ledger.New(store)
	if err := positions.Restore(ctx); err != nil {
		return err
	}
	logger.Info("Реестр позиций восстановлен", zap.Int("positions", positions.Len()))

	telemetry, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer telemetry.Close()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled {
		notifier = notify.NewTelegram(cfg.Telegram)
	}

	recorder := metrics.New()
	eng := engine.New(cfg, engine.Deps{
		Exchange: client,
		Ledger:   positions,
		Notifier: notifier,
		Storage:  telemetry,
		Metrics:  recorder,
	})

	if cfg.Status.Enabled {
		srv := server.New(cfg.Status.Addr, eng, telemetry, recorder.Handler())
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn("Ошибка остановки сервера", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	if cfg.UI.Enabled {
		monitor := ui.NewTermUI(cfg.UI, cfg.Log.File, eng)
		g.Go(func() error {
			// выход из интерфейса останавливает движок
			defer cancel()
			return monitor.Run(gctx)
		})
	}
	return g.Wait()
}

func newLedgerStore(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, func(), error) {
	if cfg.Backend != "redis" {
		logger.Info("Реестр позиций в файле", zap.String("path", cfg.Path))
		return ledger.NewFileStore(cfg.Path), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ошибка подключения к Redis %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("Реестр позиций в Redis", zap.String("addr", cfg.RedisAddr), zap.String("key", cfg.RedisKey))
	store := ledger.NewRedisStore(client, cfg.RedisKey)
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("Ошибка закрытия Redis", zap.Error(err))
		}
	}, nil
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	if !cfg.Enabled {
		return storage.Nop{}, nil
	}
	s, err := storage.NewInfluxDBStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Телеметрия пишется в InfluxDB", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))
	return s, nil
}
