package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/school-transport/internal/auth"
	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/middleware"
	"github.com/ukydev/school-transport/internal/models"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService    *auth.Service
	userCollection db.UserCollection
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, userCollection db.UserCollection) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		userCollection: userCollection,
	}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if err := decodeJSON(r, &loginReq); err != nil {
		respondError(w, r, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(loginReq.Email))

	user, err := h.userCollection.FindUserByEmail(r.Context(), loginReq.ClientOrganizationID, email)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, r, auth.ErrInvalidCredentials)
		return
	}
	if err != nil {
		respondError(w, r, fmt.Errorf("find user: %w", err))
		return
	}

	if !user.IsActive {
		respondError(w, r, auth.ErrUserInactive)
		return
	}

	if !h.authService.CheckPassword(loginReq.Password, user.PasswordHash) {
		respondError(w, r, auth.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		respondError(w, r, fmt.Errorf("generate token: %w", err))
		return
	}

	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID); err != nil {
		log.WithError(err).WithField("user_id", user.ID.Hex()).Warn("Failed to update last login")
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token: token,
		User:  *user,
	})
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	id, err := db.ParseID(claims.UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), claims.Scope(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
