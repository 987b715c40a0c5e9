package disclaimer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LocalStore は端末ローカルに保持する最終同意日時のインターフェース。
// リモートで判定できない場合のフォールバックに使う。
type LocalStore interface {
	LastAccepted(key string) (time.Time, bool)
	SetAccepted(key string, at time.Time)
}

// MemoryLocalStore はメモリ上のLocalStore実装。
type MemoryLocalStore struct {
	mu       sync.Mutex
	accepted map[string]time.Time
}

// NewMemoryLocalStore はMemoryLocalStoreを生成する。
func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{accepted: make(map[string]time.Time)}
}

// LastAccepted は記録済みの同意日時を返す。
func (m *MemoryLocalStore) LastAccepted(key string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.accepted[key]
	return at, ok
}

// SetAccepted は同意日時を記録する。
func (m *MemoryLocalStore) SetAccepted(key string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted[key] = at
}

// Gate はクライアント側の同意判定。
// リモート判定に失敗した場合はローカルの最終同意日時で判定し、記録がなければ同意を必須とする。
type Gate struct {
	checker Checker
	local   LocalStore
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewGate はGateを生成する。windowが0以下の場合はDefaultWindowを使う。
func NewGate(checker Checker, local LocalStore, window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	if local == nil {
		local = NewMemoryLocalStore()
	}
	return &Gate{
		checker: checker,
		local:   local,
		window:  window,
		now:     time.Now,
		logger:  slog.Default(),
	}
}

// NeedsDisclaimer は同意が必要かどうかを返す。
func (g *Gate) NeedsDisclaimer(ctx context.Context, userID, email string) bool {
	key := localKey(userID, email)

	st, err := g.checker.Status(ctx, userID, email)
	if err == nil {
		if st.LastAcceptedAt != nil {
			g.local.SetAccepted(key, *st.LastAcceptedAt)
		}
		return st.NeedsDisclaimer
	}

	g.logger.Warn("disclaimer check failed, falling back to local acceptance",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)

	at, ok := g.local.LastAccepted(key)
	if !ok {
		return true
	}
	return Required(&at, g.now(), g.window)
}

// RecordAcceptance は同意を記録する。リモートへの記録に失敗してもローカルに記録して続行する。
func (g *Gate) RecordAcceptance(ctx context.Context, userID, email string) time.Time {
	key := localKey(userID, email)

	at, err := g.checker.Accept(ctx, userID, email)
	if err != nil {
		g.logger.Warn("failed to record disclaimer acceptance remotely, keeping local record only",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		at = g.now().UTC()
	}
	g.local.SetAccepted(key, at)
	return at
}

func localKey(userID, email string) string {
	if id := strings.TrimSpace(userID); id != "" {
		return "id:" + id
	}
	return "email:" + strings.ToLower(strings.TrimSpace(email))
}
