// Package server HTTP API статуса движка и метрики Prometheus
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/skalibog/futsig/internal/engine"
	"github.com/skalibog/futsig/pkg/logger"
	"github.com/skalibog/futsig/pkg/models"
)

// StatusProvider источник снимка состояния
type StatusProvider interface {
	Status() engine.Status
}

// HistoryProvider история рыночного режима
type HistoryProvider interface {
	GetRegimeHistory(ctx context.Context, limit int) ([]models.MarketRegime, error)
}

// Response обертка ответа API
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Server HTTP сервер статуса
type Server struct {
	echo    *echo.Echo
	addr    string
	status  StatusProvider
	history HistoryProvider
}

// New создает сервер. metrics может быть nil.
func New(addr string, status StatusProvider, history HistoryProvider, metrics http.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, addr: addr, status: status, history: history}

	e.Use(recoverMiddleware())
	e.Use(requestLogging())

	e.GET("/healthz", s.health)
	api := e.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/regime", s.getRegime)
	api.GET("/regime/history", s.getRegimeHistory)
	api.GET("/positions", s.getPositions)
	api.GET("/candidates", s.getCandidates)

	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	return s
}

// Start запускает сервер в фоне
func (s *Server) Start() {
	go func() {
		logger.Info("HTTP сервер запущен", zap.String("addr", s.addr))
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ошибка HTTP сервера", zap.Error(err))
		}
	}()
}

// Stop корректно останавливает сервер
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка остановки HTTP сервера: %w", err)
	}
	logger.Info("HTTP сервер остановлен")
	return nil
}

// Handler для тестов
func (s *Server) Handler() http.Handler {
	return s.echo
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: data})
}

func fail(c echo.Context, code int, msg string) error {
	return c.JSON(code, Response{Status: code, Message: msg})
}

func (s *Server) health(c echo.Context) error {
	st := s.status.Status()
	return ok(c, map[string]interface{}{
		"last_cycle": st.LastCycle,
		"positions":  len(st.Positions),
		"universe":   st.Universe,
	})
}

func (s *Server) getStatus(c echo.Context) error {
	return ok(c, s.status.Status())
}

func (s *Server) getRegime(c echo.Context) error {
	return ok(c, s.status.Status().Regime)
}

func (s *Server) getPositions(c echo.Context) error {
	return ok(c, s.status.Status().Positions)
}

func (s *Server) getCandidates(c echo.Context) error {
	return ok(c, s.status.Status().Candidates)
}

func (s *Server) getRegimeHistory(c echo.Context) error {
	if s.history == nil {
		return fail(c, http.StatusServiceUnavailable, "история недоступна")
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			return fail(c, http.StatusBadRequest, "limit должен быть в диапазоне 1..1000")
		}
		limit = n
	}

	history, err := s.history.GetRegimeHistory(c.Request().Context(), limit)
	if err != nil {
		logger.Warn("Ошибка чтения истории режима", zap.Error(err))
		return fail(c, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
	return ok(c, history)
}

func requestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("HTTP запрос",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)))
			return err
		}
	}
}

func recoverMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Паника в обработчике HTTP", zap.Any("panic", r))
					err = fail(c, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				}
			}()
			return next(c)
		}
	}
}
