package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNotification() Notification {
	return Notification{
		ReservationID: "r-1",
		LeadID:        "lead-42",
		Email:         "cfo@acme.example",
		Name:          "Dana Whitfield",
		Company:       "Acme Holdings",
		Date:          "2026-10-20",
		Time:          "16:00",
		StartsAt:      time.Date(2026, 10, 20, 20, 0, 0, 0, time.UTC),
	}
}

func TestWebhook_PostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := Webhook{URL: srv.URL}.Notify(context.Background(), sampleNotification())
	require.NoError(t, err)
	assert.Equal(t, "reservation.created", got["event"])
	assert.Equal(t, "r-1", got["reservationId"])
	assert.Equal(t, "2026-10-20", got["date"])
	assert.Equal(t, "16:00", got["time"])
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := Webhook{URL: srv.URL, Client: srv.Client()}.Notify(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegram_SendsToStaffChat(t *testing.T) {
	fs := &fakeSender{}
	tg := &Telegram{bot: fs, chatID: -100123}

	require.NoError(t, tg.Notify(context.Background(), sampleNotification()))
	require.Len(t, fs.sent, 1)
	assert.Equal(t, int64(-100123), fs.sent[0].ChatID)
	assert.Contains(t, fs.sent[0].Text, "2026-10-20 16:00")
	assert.Contains(t, fs.sent[0].Text, "Company: Acme Holdings")
	assert.NotContains(t, fs.sent[0].Text, "Phone:")
}

func TestTelegram_SendError(t *testing.T) {
	tg := &Telegram{bot: &fakeSender{err: errors.New("forbidden")}, chatID: 1}
	assert.Error(t, tg.Notify(context.Background(), sampleNotification()))
}

type notifierFunc func(ctx context.Context, n Notification) error

func (f notifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

func TestMulti_JoinsErrors(t *testing.T) {
	var calls int32
	ok := notifierFunc(func(context.Context, Notification) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	bad := notifierFunc(func(context.Context, Notification) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("down")
	})

	err := Multi{ok, bad, ok}.Notify(context.Background(), sampleNotification())
	assert.EqualError(t, err, "down")
	assert.Equal(t, int32(3), calls)

	assert.NoError(t, Multi{ok}.Notify(context.Background(), sampleNotification()))
}

func TestDispatcher_OutlivesCallerContext(t *testing.T) {
	var delivered atomic.Bool
	n := notifierFunc(func(ctx context.Context, _ Notification) error {
		time.Sleep(20 * time.Millisecond)
		if ctx.Err() == nil {
			delivered.Store(true)
		}
		return nil
	})
	d := NewDispatcher(n, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, sampleNotification())
	cancel()
	d.Wait()

	assert.True(t, delivered.Load())
}

func TestDispatcher_LogsFailureAndPanic(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	d := NewDispatcher(notifierFunc(func(context.Context, Notification) error {
		return errors.New("smtp down")
	}), time.Second, log)
	d.Dispatch(context.Background(), sampleNotification())
	d.Wait()
	assert.Contains(t, buf.String(), "notification failed")

	buf.Reset()
	d = NewDispatcher(notifierFunc(func(context.Context, Notification) error {
		panic("boom")
	}), time.Second, log)
	d.Dispatch(context.Background(), sampleNotification())
	d.Wait()
	assert.Contains(t, buf.String(), "notifier panicked")
}

func TestDispatcher_Timeout(t *testing.T) {
	var deadline atomic.Bool
	d := NewDispatcher(notifierFunc(func(ctx context.Context, _ Notification) error {
		<-ctx.Done()
		deadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}), 10*time.Millisecond, zerolog.Nop())

	d.Dispatch(context.Background(), sampleNotification())
	d.Wait()
	assert.True(t, deadline.Load())
}

func TestLog_Notify(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Log{Logger: zerolog.New(&buf)}.Notify(context.Background(), sampleNotification()))
	assert.Contains(t, buf.String(), `"reservation_id":"r-1"`)
}
