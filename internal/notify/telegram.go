// Package notify отправляет текстовые события оператору
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/skalibog/futsig/internal/config"
	"github.com/skalibog/futsig/pkg/logger"
)

// Notifier получатель событий. Ошибка доставки не должна ломать решение,
// поэтому вызывающий код только логирует ее.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop ничего не отправляет
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Telegram отправка через Bot API sendMessage
type Telegram struct {
	endpoint string
	token    string
	chatID   string
	retries  int
	client   *http.Client
	backoff  *backoff.Backoff
}

// NewTelegram создает отправителя
func NewTelegram(cfg config.TelegramConfig) *Telegram {
	return &Telegram{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.Token,
		chatID:   cfg.ChatID,
		retries:  cfg.Retries,
		client:   &http.Client{Timeout: cfg.Timeout},
		backoff: &backoff.Backoff{
			Min:    500 * time.Millisecond,
			Max:    5 * time.Second,
			Factor: 2,
		},
	}
}

// Notify отправляет сообщение с повторами
func (t *Telegram) Notify(ctx context.Context, text string) error {
	b := *t.backoff
	b.Reset()

	var err error
	for attempt := 1; attempt <= t.retries; attempt++ {
		if err = t.send(ctx, text); err == nil {
			return nil
		}

		logger.Debug("Повтор отправки в Telegram", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == t.retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return fmt.Errorf("ошибка отправки в Telegram после %d попыток: %w", t.retries, err)
}

func (t *Telegram) send(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")

	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.endpoint, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram вернул %d: %s", resp.StatusCode, body)
	}
	return nil
}
