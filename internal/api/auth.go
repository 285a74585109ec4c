package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/chatrelay/internal/auth"
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/go-playground/validator/v10"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Status   string `json:"status"`
}

// Login exchanges credentials for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid credentials")
		return
	}

	token, userID, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		Error(w, http.StatusBadRequest, "Invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("Login failed", "error", err)
		Error(w, http.StatusInternalServerError, "Server error")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"token": token, "userId": userID})
}

// Register creates a new account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	user, err := h.auth.Register(r.Context(), auth.Credentials{Email: req.Email, Password: req.Password}, domain.Status(req.Status))
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		Error(w, http.StatusBadRequest, validationMessage(err))
		return
	case errors.Is(err, domain.ErrInvalidStatus):
		Error(w, http.StatusBadRequest, "Invalid status")
		return
	case errors.Is(err, domain.ErrUserExists):
		Error(w, http.StatusConflict, "User already exists")
		return
	case err != nil:
		h.logger.Error("Registration failed", "error", err)
		Error(w, http.StatusInternalServerError, "Server error")
		return
	}

	JSON(w, http.StatusCreated, map[string]string{"userId": user.ID})
}
