package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bundleradar/internal/detector"
)

func sampleAlert(tier detector.Tier) detector.Alert {
	return detector.Alert{
		ID:           uuid.New(),
		Mint:         "So11111111111111111111111111111111111111112",
		Name:         "Pepe",
		Tier:         tier,
		TradeCount:   3,
		TotalSol:     12.5,
		MaxSingleSol: 9,
		DominancePct: 72,
		MarketCapSol: 40,
		Age:          7 * time.Second,
		AgeKnown:     true,
		Window:       3 * time.Second,
		DetectedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func sampleNote(tier detector.Tier) Notification {
	return NewNotification(sampleAlert(tier), decimal.NewFromInt(150), "https://axiom.trade/t/", "@everyone")
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote(detector.TierLarge)); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text, _ := received["text"].(string)
	for _, want := range []string{"🚀 60%", "Pepe", "12.500 SOL", "~$6000", "7s", "https://axiom.trade/t/So111"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text 缺少 %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote(detector.TierBundle)); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestDiscordNotifierPayload(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewDiscordNotifier(srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote(detector.TierWhale)); err != nil {
		t.Fatalf("Discord Notify 应成功: %v", err)
	}

	if !strings.HasPrefix(payload.Content, "@everyone") || !strings.Contains(payload.Content, "So111") {
		t.Fatalf("content 不正确: %q", payload.Content)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("应只有一个 embed, 实际 %d", len(payload.Embeds))
	}
	embed := payload.Embeds[0]
	if embed.Color != colorWhale {
		t.Fatalf("whale 颜色应为红色, 实际 %x", embed.Color)
	}
	if !strings.Contains(embed.Title, "🐳 80%") || !strings.HasSuffix(embed.Title, "Pepe") {
		t.Fatalf("title 不正确: %q", embed.Title)
	}
	if embed.Timestamp != "2025-03-01T12:00:00Z" {
		t.Fatalf("timestamp 不正确: %q", embed.Timestamp)
	}
	if len(embed.Fields) != 1 || !strings.Contains(embed.Fields[0].Value, "https://axiom.trade/t/So111") {
		t.Fatalf("OPEN 字段不正确: %#v", embed.Fields)
	}
}

func TestDiscordNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	notifier := NewDiscordNotifier(srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote(detector.TierMedium)); err == nil {
		t.Fatal("429 应报错")
	}
}

func TestTierColors(t *testing.T) {
	cases := map[detector.Tier]int{
		detector.TierWhale:  colorWhale,
		detector.TierLarge:  colorLarge,
		detector.TierMedium: colorDefault,
		detector.TierBundle: colorDefault,
	}
	for tier, want := range cases {
		if got := tierColor(tier); got != want {
			t.Fatalf("%s: 颜色 %x, 期望 %x", tier, got, want)
		}
	}
}

func TestRenderUnknownAgeAndMarketCap(t *testing.T) {
	alert := sampleAlert(detector.TierBundle)
	alert.AgeKnown = false
	alert.MarketCapSol = 0
	text := renderText(NewNotification(alert, decimal.Zero, "", ""))
	if !strings.Contains(text, "Age: unknown") || !strings.Contains(text, "Market cap: unknown") {
		t.Fatalf("未知字段应渲染为 unknown:\n%s", text)
	}
}

func TestRenderNonFiniteAlert(t *testing.T) {
	alert := sampleAlert(detector.TierWhale)
	alert.MarketCapSol = math.Inf(1)
	alert.TotalSol = math.Inf(1)
	alert.DominancePct = math.NaN()

	note := NewNotification(alert, decimal.NewFromInt(150), "", "")
	if !note.MarketCapUSD.IsZero() {
		t.Fatalf("非有限市值不应换算美元: %s", note.MarketCapUSD)
	}
	text := renderText(note)
	for _, want := range []string{"Total: n/a SOL", "Dominance: n/a%", "Market cap: unknown"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text 缺少 %q:\n%s", want, text)
		}
	}
	if _, err := json.Marshal(buildDiscordPayload(note)); err != nil {
		t.Fatalf("Discord payload 应可编码: %v", err)
	}
}

type panicNotifier struct{}

func (panicNotifier) Notify(context.Context, Notification) error {
	panic("boom")
}

func TestDispatcherDeliverRecoversPanic(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{}, panicNotifier{}, nil, nil, testLogger())

	err := d.Deliver(context.Background(), sampleAlert(detector.TierBundle))
	if err == nil || !strings.Contains(err.Error(), "panic: boom") {
		t.Fatalf("panic 应转为错误, 实际 %v", err)
	}
}

type stubNotifier struct {
	mu    sync.Mutex
	notes []Notification
	err   error
	block chan struct{}
}

func (s *stubNotifier) Notify(ctx context.Context, note Notification) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, note)
	return s.err
}

func (s *stubNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

type stubArchive struct {
	saved atomic.Int32
}

func (s *stubArchive) SaveAlert(context.Context, detector.Alert, decimal.Decimal) error {
	s.saved.Add(1)
	return nil
}

type stubObserver struct {
	delivered atomic.Int32
	failed    atomic.Int32
	dropped   atomic.Int32
}

func (s *stubObserver) ObserveDelivery(err error) {
	if err != nil {
		s.failed.Add(1)
		return
	}
	s.delivered.Add(1)
}

func (s *stubObserver) ObserveDrop() { s.dropped.Add(1) }

func TestFanoutJoinsErrors(t *testing.T) {
	first := errors.New("discord down")
	second := errors.New("telegram down")
	ok := &stubNotifier{}
	fan := Fanout{&stubNotifier{err: first}, ok, &stubNotifier{err: second}}

	err := fan.Notify(context.Background(), sampleNote(detector.TierBundle))
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("应合并所有错误, 实际 %v", err)
	}
	if ok.count() != 1 {
		t.Fatal("其它通道仍应收到告警")
	}
}

func TestDispatcherDeliversQueuedAlerts(t *testing.T) {
	notifier := &stubNotifier{}
	archive := &stubArchive{}
	observer := &stubObserver{}
	d := NewDispatcher(DispatcherOptions{QueueSize: 4, Workers: 2}, notifier, archive, observer, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := 0; i < 3; i++ {
		if err := d.Enqueue(sampleAlert(detector.TierMedium)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for notifier.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("只投递了 %d 条", notifier.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled, 实际 %v", err)
	}
	if archive.saved.Load() != 3 || observer.delivered.Load() != 3 {
		t.Fatalf("archive=%d delivered=%d", archive.saved.Load(), observer.delivered.Load())
	}
}

func TestDispatcherEnqueueNeverBlocks(t *testing.T) {
	observer := &stubObserver{}
	d := NewDispatcher(DispatcherOptions{QueueSize: 1}, &stubNotifier{}, nil, observer, testLogger())

	if err := d.Enqueue(sampleAlert(detector.TierBundle)); err != nil {
		t.Fatalf("第一条应入队: %v", err)
	}
	if err := d.Enqueue(sampleAlert(detector.TierBundle)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("队列满时应返回 ErrQueueFull, 实际 %v", err)
	}
	if observer.dropped.Load() != 1 || d.Pending() != 1 {
		t.Fatalf("dropped=%d pending=%d", observer.dropped.Load(), d.Pending())
	}
}

func TestDispatcherDeliverTimesOut(t *testing.T) {
	notifier := &stubNotifier{block: make(chan struct{})}
	observer := &stubObserver{}
	d := NewDispatcher(DispatcherOptions{Timeout: 20 * time.Millisecond}, notifier, nil, observer, testLogger())

	err := d.Deliver(context.Background(), sampleAlert(detector.TierBundle))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("应超时, 实际 %v", err)
	}
	if observer.failed.Load() != 1 {
		t.Fatal("失败应被记录")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
