package disclaimer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockChecker struct {
	status    *Status
	statusErr error
	acceptAt  time.Time
	acceptErr error
	accepts   int
}

func (m *mockChecker) Status(context.Context, string, string) (*Status, error) {
	return m.status, m.statusErr
}

func (m *mockChecker) Accept(context.Context, string, string) (time.Time, error) {
	m.accepts++
	return m.acceptAt, m.acceptErr
}

func newTestGate(checker Checker, local LocalStore) *Gate {
	g := NewGate(checker, local, 0)
	g.now = func() time.Time { return now }
	return g
}

func TestGate_RemoteAnswerIsUsed(t *testing.T) {
	accepted := now.Add(-24 * time.Hour)
	local := NewMemoryLocalStore()
	g := newTestGate(&mockChecker{status: &Status{NeedsDisclaimer: false, LastAcceptedAt: &accepted}}, local)

	assert.False(t, g.NeedsDisclaimer(context.Background(), "u1", "a@example.org"))

	// リモートの同意日時はローカルにも保存される
	at, ok := local.LastAccepted("id:u1")
	assert.True(t, ok)
	assert.Equal(t, accepted, at)
}

func TestGate_RemoteRequired(t *testing.T) {
	g := newTestGate(&mockChecker{status: &Status{NeedsDisclaimer: true}}, nil)
	assert.True(t, g.NeedsDisclaimer(context.Background(), "u1", ""))
}

func TestGate_RemoteFailure_NoLocalFlag_FailsClosed(t *testing.T) {
	g := newTestGate(&mockChecker{statusErr: errors.New("network down")}, nil)
	assert.True(t, g.NeedsDisclaimer(context.Background(), "u1", "a@example.org"))
}

func TestGate_RemoteFailure_RecentLocalFlag(t *testing.T) {
	local := NewMemoryLocalStore()
	local.SetAccepted("email:a@example.org", now.Add(-10*24*time.Hour))
	g := newTestGate(&mockChecker{statusErr: errors.New("502")}, local)

	assert.False(t, g.NeedsDisclaimer(context.Background(), "", "A@Example.org"))
}

func TestGate_RemoteFailure_ExpiredLocalFlag(t *testing.T) {
	local := NewMemoryLocalStore()
	local.SetAccepted("id:u1", now.Add(-91*24*time.Hour))
	g := newTestGate(&mockChecker{statusErr: errors.New("502")}, local)

	assert.True(t, g.NeedsDisclaimer(context.Background(), "u1", ""))
}

func TestGate_RecordAcceptance_Remote(t *testing.T) {
	remoteAt := now.Add(-time.Second)
	local := NewMemoryLocalStore()
	checker := &mockChecker{acceptAt: remoteAt}
	g := newTestGate(checker, local)

	at := g.RecordAcceptance(context.Background(), "u1", "")

	assert.Equal(t, remoteAt, at)
	assert.Equal(t, 1, checker.accepts)
	stored, ok := local.LastAccepted("id:u1")
	assert.True(t, ok)
	assert.Equal(t, remoteAt, stored)
}

func TestGate_RecordAcceptance_RemoteFailure_KeepsLocalAndProceeds(t *testing.T) {
	local := NewMemoryLocalStore()
	g := newTestGate(&mockChecker{acceptErr: errors.New("500"), statusErr: errors.New("500")}, local)

	at := g.RecordAcceptance(context.Background(), "u1", "")
	assert.Equal(t, now, at)

	// 以降のリモート判定が失敗してもローカル記録で同意済みと判断される
	assert.False(t, g.NeedsDisclaimer(context.Background(), "u1", ""))
}
