package admission

import (
	"sync"

	"github.com/hitoshi/memberportal/internal/model"
)

// MemoryStore はメモリ上のSessionStore実装。
type MemoryStore struct {
	mu            sync.Mutex
	token         string
	passwordLogin bool
	email         string
	blockedRole   model.Role
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *MemoryStore) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *MemoryStore) ClearToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// SetPasswordLogin はパスワードログイン成功時にフラグ・メールアドレス・トークンを保存する。
func (s *MemoryStore) SetPasswordLogin(email, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwordLogin = true
	s.email = email
	s.token = token
}

func (s *MemoryStore) PasswordLogin() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.email, s.passwordLogin
}

func (s *MemoryStore) ClearPasswordLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwordLogin = false
	s.email = ""
}

func (s *MemoryStore) SetBlockedRole(role model.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockedRole = role
}

// BlockedRole はログイン画面で表示する入場拒否理由を返す。
func (s *MemoryStore) BlockedRole() model.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockedRole
}
