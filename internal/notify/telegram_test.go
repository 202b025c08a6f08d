package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skalibog/futsig/internal/config"
)

func TestTelegramNotify(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = r.ParseForm()
		got.Store(r.PostForm.Get("chat_id") + "|" + r.PostForm.Get("text"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{Endpoint: srv.URL, Token: "TOKEN", ChatID: "42", Retries: 1, Timeout: time.Second})
	if err := tg.Notify(context.Background(), "closed BTCUSDT"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Load() != "42|closed BTCUSDT" {
		t.Errorf("form = %v", got.Load())
	}
}

func TestTelegramRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "flood", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{Endpoint: srv.URL, Token: "T", ChatID: "1", Retries: 2, Timeout: time.Second})
	tg.backoff.Min, tg.backoff.Max = time.Millisecond, time.Millisecond

	if err := tg.Notify(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Notify(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
}
