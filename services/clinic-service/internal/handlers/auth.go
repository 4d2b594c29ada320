package handlers

import (
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/rakibhasan/clinicbook/libs/auth"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/model"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

type AuthHandler struct {
	users     *storage.UserRepository
	jwtSecret string
	tokenTTL  time.Duration
	logger    *slog.Logger
}

func NewAuthHandler(users *storage.UserRepository, jwtSecret string, tokenTTL time.Duration, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{users: users, jwtSecret: jwtSecret, tokenTTL: tokenTTL, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		http.Error(w, "invalid email address", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	u := model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RolePatient,
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		if storage.IsUniqueViolation(err) {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		writeError(w, h.logger, err)
		return
	}
	h.respondWithToken(w, u, http.StatusCreated)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := h.users.GetByEmail(r.Context(), req.Email)
	if storage.IsNotFound(err) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if auth.VerifyPassword(u.PasswordHash, req.Password) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	h.respondWithToken(w, u, http.StatusOK)
}

// Me returns the account behind the presented token. Runs behind RequireAuth.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	u, err := h.users.GetByID(r.Context(), actor.UserID)
	if storage.IsNotFound(err) {
		http.Error(w, "account no longer exists", http.StatusUnauthorized)
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    u.ID,
		"email": u.Email,
		"role":  u.Role,
	})
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, u model.User, status int) {
	token, err := auth.MakeToken(u.ID, u.Role, h.jwtSecret, h.tokenTTL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var resp tokenResponse
	resp.Token = token
	resp.User.ID = u.ID
	resp.User.Email = u.Email
	resp.User.Role = u.Role
	writeJSON(w, status, resp)
}
