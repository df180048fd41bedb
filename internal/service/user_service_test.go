package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bidvault/bidvault/internal/domain"
)

func newUserService(store *memStore) *UserService {
	svc := NewUserService(memUsers{store}, testLogger())
	svc.now = func() time.Time { return testTime }
	return svc
}

func TestRegisterUser(t *testing.T) {
	svc := newUserService(newMemStore())

	user, err := svc.Register(context.Background(), "  Ada ", "Ada@Example.com")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.Equal(t, "Ada", user.Name)
	require.Equal(t, "ada@example.com", user.Email)
	require.Equal(t, domain.UserRoleUser, user.Role)
}

func TestRegisterUserDuplicateEmail(t *testing.T) {
	svc := newUserService(newMemStore())

	_, err := svc.Register(context.Background(), "Ada", "ada@example.com")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "Other Ada", "ada@example.com")
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestRegisterUserValidation(t *testing.T) {
	svc := newUserService(newMemStore())

	_, err := svc.Register(context.Background(), "", "ada@example.com")
	require.True(t, IsValidationError(err))

	_, err = svc.Register(context.Background(), "Ada", "not-an-email")
	require.True(t, IsValidationError(err))
}

func TestGetUser(t *testing.T) {
	store := newMemStore()
	seedUser(store, "user-1", "Ada")
	svc := newUserService(store)

	user, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "Ada", user.Name)

	_, err = svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
