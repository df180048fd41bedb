package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bidvault/bidvault/internal/domain"
)

// UserService handles the minimal identity records the platform keeps.
type UserService struct {
	users  domain.UserStore
	now    func() time.Time
	logger *slog.Logger
}

// NewUserService creates a UserService.
func NewUserService(users domain.UserStore, logger *slog.Logger) *UserService {
	return &UserService{
		users:  users,
		now:    time.Now,
		logger: logger,
	}
}

// Register creates a user with the default role. The email must be unique;
// domain.ErrAlreadyExists when a user with the address exists.
func (s *UserService) Register(ctx context.Context, name, email string) (domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))

	if name == "" {
		return domain.User{}, fmt.Errorf("user_service: %w: name must not be empty", errValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, fmt.Errorf("user_service: %w: invalid email address", errValidation)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return domain.User{}, domain.ErrAlreadyExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("user_service: check email: %w", err)
	}

	user := domain.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Role:      domain.UserRoleUser,
		CreatedAt: s.now(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.User{}, domain.ErrAlreadyExists
		}
		return domain.User{}, fmt.Errorf("user_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "user_service: user registered",
		slog.String("user_id", user.ID),
	)

	return user, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("user_service: get %s: %w", id, err)
	}
	return user, nil
}
