package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimpers/betchya/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyEventFilters(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"settled", " withdrawn "}, discard())
	ctx := context.Background()

	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Kind: domain.EventCreated, BetIndex: 1}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Kind: domain.EventSettled, BetIndex: 1}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Kind: domain.EventWithdrawn, BetIndex: 1}))

	assert.Equal(t, []string{"Bet #1 settled", "Bet #1 withdrawal"}, s.titles)
	assert.True(t, n.Allows(domain.EventSettled))
	assert.False(t, n.Allows(domain.EventAccepted))
}

func TestNotifyAllowsEverythingWithoutFilter(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	assert.True(t, n.Allows(domain.EventFunded))
	assert.False(t, n.Enabled())
	assert.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, 1, good.count())
}

func TestFormat(t *testing.T) {
	alice := common.HexToAddress("0x0000000000000000000000000000000000000001")
	won := domain.ResultAcceptorWon
	amt := domain.NewAmount(200)
	stopped := domain.BreakerStopped

	tests := []struct {
		evt   domain.Event
		title string
		body  string
	}{
		{domain.Event{Kind: domain.EventCreated, BetIndex: 4, Proposer: &alice}, "Bet #4 created", alice.Hex()},
		{domain.Event{Kind: domain.EventSettled, BetIndex: 4, Result: &won}, "Bet #4 settled", "AcceptorWon"},
		{domain.Event{Kind: domain.EventWithdrawn, BetIndex: 4, Withdrawer: &alice, Amount: &amt}, "Bet #4 withdrawal", "withdrew 200"},
		{domain.Event{Kind: domain.EventBreakerChanged, Breaker: &stopped, Seq: 9}, "Circuit breaker changed", "seq 9"},
		{domain.Event{Kind: domain.EventFunded, To: &alice, Amount: &amt}, "Account funded", "received 200"},
	}
	for _, tt := range tests {
		t.Run(string(tt.evt.Kind), func(t *testing.T) {
			title, body := Format(tt.evt)
			assert.Equal(t, tt.title, title)
			assert.Contains(t, body, tt.body)
		})
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Bet #1 settled", "Result: Draw"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Bet #1 settled*\nResult: Draw", got["text"])
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad webhook"}`))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type chanBus struct {
	chans map[string]chan []byte
}

func (b *chanBus) Publish(_ context.Context, ch string, payload []byte) error {
	b.chans[ch] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, ch string) (<-chan []byte, error) {
	return b.chans[ch], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestRelay(t *testing.T) {
	bus := &chanBus{chans: map[string]chan []byte{
		domain.ChannelBets:    make(chan []byte, 4),
		domain.ChannelBreaker: make(chan []byte, 4),
	}}
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Relay(ctx, bus) }()

	stopped := domain.BreakerStopped
	for _, evt := range []domain.Event{
		{Kind: domain.EventAccepted, BetIndex: 2},
	} {
		payload, _ := json.Marshal(evt)
		require.NoError(t, bus.Publish(ctx, domain.ChannelBets, payload))
	}
	payload, _ := json.Marshal(domain.Event{Kind: domain.EventBreakerChanged, Breaker: &stopped})
	require.NoError(t, bus.Publish(ctx, domain.ChannelBreaker, payload))
	require.NoError(t, bus.Publish(ctx, domain.ChannelBets, []byte("not json")))

	assert.Eventually(t, func() bool { return s.count() == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
