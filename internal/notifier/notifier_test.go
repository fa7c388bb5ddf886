package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"MediVault/internal/model"
)

var usdc = Formatter{Symbol: "USDC", Decimals: 6}

func TestFormatter_Amount(t *testing.T) {
	assert.Equal(t, "250.00 USDC", usdc.Amount(250_000000))
	assert.Equal(t, "0.00 USDC", usdc.Amount(1))
	assert.Equal(t, "30000.00 USDC", usdc.Amount(30_000_000000))
	assert.Equal(t, "18446744073709.55 USDC", usdc.Amount(^model.Amount(0)))
}

func TestFormatter_Event(t *testing.T) {
	sched := model.RepaymentSchedule{VaultID: 3, TotalMonths: 120, TotalPaid: 250_000000, TotalOwed: 30_000_000000}
	evt := model.NewEvent(model.EventPaymentProcessed, time.Now())
	evt.Schedule = &sched
	evt.Payment = &model.Payment{VaultID: 3, Month: 1, Amount: 250_000000}

	text := usdc.Event(evt)
	assert.Contains(t, text, "Repayment 1/120")
	assert.Contains(t, text, "250.00 USDC")

	assert.Empty(t, usdc.Event(model.NewEvent(model.EventVaultDeposited, time.Now())))
}

func TestFormatter_Activity(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	claimed := model.NewEvent(model.EventReturnsClaimed, at)
	claimed.VaultID = 4
	claimed.Amount = 75_000000
	started := model.NewEvent(model.EventRoundStarted, at)
	started.RoundID = 2

	text := usdc.Activity([]model.Event{claimed, started})
	assert.Contains(t, text, "2025-03-01 09:30 vault.returns_claimed vault #4 75.00 USDC")
	assert.Contains(t, text, "round.started round #2")
	assert.Equal(t, "No recorded activity.", usdc.Activity(nil))

	prize := model.NewEvent(model.EventPrizeClaimed, at)
	prize.VaultID = 2
	prize.Amount = 15_000000
	assert.Contains(t, usdc.Event(prize), "15.00 USDC paid to the beneficiary")
}

func TestFormatter_Price(t *testing.T) {
	st := model.PriceState{Price: 100_020000, Decimals: 8, Multiplier: 100, Observed: true, Status: model.StatusStable}
	assert.Contains(t, usdc.Price(st, false), "Price: 1.0002")
	assert.Contains(t, usdc.Price(st, true), "stale")
	assert.Contains(t, usdc.Price(model.PriceState{Multiplier: 100}, false), "No price observed")
}

func TestTelegramNotifier_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "", zaptest.NewLogger(t))
	n.APIBase = srv.URL
	require.NoError(t, n.Send(context.Background(), "hello"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestTelegramNotifier_SendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "", zaptest.NewLogger(t))
	n.APIBase = srv.URL
	assert.ErrorContains(t, n.Send(context.Background(), "hello"), "status 401")
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	done chan struct{}
}

func (r *recordingSender) SendWithRetry(_ context.Context, text string, _ int) error {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestEventSink_QueuesNotableEvents(t *testing.T) {
	sender := &recordingSender{done: make(chan struct{}, 4)}
	sink := NewEventSink(sender, usdc, 4, zaptest.NewLogger(t))

	closed := model.NewEvent(model.EventVaultClosed, time.Now())
	closed.VaultID = 7
	require.NoError(t, sink.Handle(model.NewEvent(model.EventVaultDeposited, time.Now())))
	require.NoError(t, sink.Handle(closed))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	select {
	case <-sender.done:
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "Vault #7 closed")
}
