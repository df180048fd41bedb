package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bidvault/bidvault/internal/domain"
	"github.com/bidvault/bidvault/internal/service"
)

// UserService defines the methods the user handler requires from the service
// layer.
type UserService interface {
	Register(ctx context.Context, name, email string) (domain.User, error)
	Get(ctx context.Context, id string) (domain.User, error)
}

// UserHandler serves identity endpoints.
type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// registerUserRequest is the POST body for user registration.
type registerUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RegisterUser creates a user record.
// POST /api/users
func (h *UserHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.Register(r.Context(), req.Name, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "a user with this email already exists")
		case service.IsValidationError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: register user failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to register user")
		}
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// GetUser returns a user by ID.
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get user failed",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}
