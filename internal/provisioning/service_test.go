package provisioning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/memberportal/internal/model"
)

type mockUserStore struct {
	users     map[string]*model.User
	findErr   error
	createErr error
	created   []*model.User
}

func (m *mockUserStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.users[email], nil
}

func (m *mockUserStore) Create(_ context.Context, user *model.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if user.ID == "" {
		user.ID = "generated-id"
	}
	m.created = append(m.created, user)
	return nil
}

func TestProvision_CreatesUserWithDefaultRole(t *testing.T) {
	store := &mockUserStore{}
	svc := NewService(store, []string{"example.org"}, model.RoleNew)

	res, err := svc.Provision(context.Background(), Request{Email: " New.Member@Example.org ", UserID: "auth-1"})

	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "auth-1", res.User.ID)
	assert.Equal(t, "new.member@example.org", res.User.Email)
	assert.Equal(t, model.RoleNew, res.User.Role)
	assert.Len(t, store.created, 1)
}

func TestProvision_LinksExistingUser(t *testing.T) {
	existing := &model.User{ID: "u1", Email: "m@example.org", Role: model.RoleMember}
	store := &mockUserStore{users: map[string]*model.User{"m@example.org": existing}}

	res, err := NewService(store, nil, model.RoleNew).Provision(context.Background(), Request{Email: "M@example.org"})

	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Same(t, existing, res.User)
	assert.Empty(t, store.created)
}

func TestProvision_DomainAllowList(t *testing.T) {
	svc := NewService(&mockUserStore{}, []string{"Example.org", "members.coalition.net"}, "")

	tests := []struct {
		email   string
		allowed bool
	}{
		{"a@example.org", true},
		{"a@mail.example.org", true},
		{"a@members.coalition.net", true},
		{"a@other.coalition.net", false},
		{"a@example.co.uk", false},
		{"a@evil-example.org", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			_, err := svc.Provision(context.Background(), Request{Email: tt.email})
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			var apiErr *model.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, model.ErrCodeEmailDomainNotAllowed, apiErr.Code)
		})
	}
}

func TestProvision_InvalidDefaultRoleFallsBackToNew(t *testing.T) {
	store := &mockUserStore{}
	res, err := NewService(store, nil, model.Role("superuser")).Provision(context.Background(), Request{Email: "a@example.org"})

	require.NoError(t, err)
	assert.Equal(t, model.RoleNew, res.User.Role)
	assert.Equal(t, "generated-id", res.User.ID)
}

func TestProvision_Validation(t *testing.T) {
	svc := NewService(&mockUserStore{}, nil, model.RoleNew)

	var apiErr *model.APIError
	_, err := svc.Provision(context.Background(), Request{})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.ErrCodeMissingRequiredFields, apiErr.Code)

	_, err = svc.Provision(context.Background(), Request{Email: "not-an-email"})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.ErrCodeInvalidRequest, apiErr.Code)
}

func TestProvision_StoreErrors(t *testing.T) {
	_, err := NewService(&mockUserStore{findErr: errors.New("down")}, nil, model.RoleNew).
		Provision(context.Background(), Request{Email: "a@example.org"})
	assert.Error(t, err)

	_, err = NewService(&mockUserStore{createErr: errors.New("duplicate key")}, nil, model.RoleNew).
		Provision(context.Background(), Request{Email: "a@example.org"})
	assert.Error(t, err)
}
