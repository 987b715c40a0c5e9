package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultInterval はハートビートの定期送信間隔。
	DefaultInterval = 2 * time.Minute
	// DefaultDebounce は最後の操作から送信までの待ち時間。
	DefaultDebounce = 30 * time.Second
	// DefaultWarnInterval は送信失敗の警告ログを出す最小間隔。
	DefaultWarnInterval = 60 * time.Second
)

// Heartbeat はセッション中のアクティビティを定期的に送信する。
// 開始直後に1回、以降はintervalごと、さらに最後の操作からdebounce経過後に送信する。
// 送信失敗は呼び出し元に返さず、警告ログも一定間隔に1回までに抑える。
type Heartbeat struct {
	tracker  Tracker
	interval time.Duration
	debounce time.Duration
	warn     *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interact chan struct{}
}

// HeartbeatOption はHeartbeatの任意設定。
type HeartbeatOption func(*Heartbeat)

// WithInterval は定期送信間隔を設定する。
func WithInterval(d time.Duration) HeartbeatOption {
	return func(h *Heartbeat) {
		h.interval = d
	}
}

// WithDebounce は操作後の送信待ち時間を設定する。
func WithDebounce(d time.Duration) HeartbeatOption {
	return func(h *Heartbeat) {
		h.debounce = d
	}
}

// WithWarnInterval は警告ログの最小間隔を設定する。
func WithWarnInterval(d time.Duration) HeartbeatOption {
	return func(h *Heartbeat) {
		h.warn = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithHeartbeatLogger はロガーを設定する。
func WithHeartbeatLogger(l *slog.Logger) HeartbeatOption {
	return func(h *Heartbeat) {
		h.logger = l
	}
}

// NewHeartbeat はHeartbeatを生成する。
func NewHeartbeat(tracker Tracker, opts ...HeartbeatOption) *Heartbeat {
	h := &Heartbeat{
		tracker:  tracker,
		interval: DefaultInterval,
		debounce: DefaultDebounce,
		warn:     rate.NewLimiter(rate.Every(DefaultWarnInterval), 1),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start はハートビートを開始する。既に動作中の場合は停止してから開始し直す。
func (h *Heartbeat) Start(ctx context.Context, userID, email string) {
	h.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.interact = make(chan struct{}, 1)

	go h.loop(ctx, userID, email, h.interact, h.done)
}

// Interact はユーザー操作（ポインター・キーボード・スクロール・タッチ）を通知する。
// デバウンスタイマーを再設定する。ブロックしない。
func (h *Heartbeat) Interact() {
	h.mu.Lock()
	ch := h.interact
	h.mu.Unlock()

	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Stop は定期送信とデバウンスタイマーを停止し、ループの終了を待つ。
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done, h.interact = nil, nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running はハートビートが動作中かどうかを返す。
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

func (h *Heartbeat) loop(ctx context.Context, userID, email string, interact <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	h.beat(ctx, userID, email)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx, userID, email)
		case <-interact:
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(h.debounce)
			debounceC = debounce.C
		case <-debounceC:
			debounceC = nil
			h.beat(ctx, userID, email)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context, userID, email string) {
	err := h.tracker.Touch(ctx, userID, email, h.now())
	if err == nil || ctx.Err() != nil {
		return
	}
	if h.warn.Allow() {
		h.logger.Warn("activity heartbeat failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
