package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront-api/internal/service"
)

// AuthHandler serves registration, login and the caller's own account.
type AuthHandler struct {
	auth   *service.AuthService
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *AuthHandler) RegisterRoutes(r chi.Router, mw *Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/register-as-partner", h.RegisterPartner)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(mw.Authenticate)
			r.Get("/me", h.Me)
			r.Post("/logout", h.Logout)
			r.Patch("/update-password", h.ChangePassword)
			r.Delete("/me", h.DeleteMe)
		})
	})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if !decodeJSON(r, &req) {
		respondWithStatus(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "Invalid request body")
		return
	}
	account, err := h.auth.Register(r.Context(), req)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusCreated, "Account created successfully", account)
}

func (h *AuthHandler) RegisterPartner(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if !decodeJSON(r, &req) {
		respondWithStatus(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "Invalid request body")
		return
	}
	account, err := h.auth.RegisterPartner(r.Context(), req)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusCreated, "Partner account created successfully", account)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if !decodeJSON(r, &req) {
		respondWithStatus(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "Invalid request body")
		return
	}
	req.IPAddress = clientIP(r)
	req.UserAgent = r.UserAgent()

	result, err := h.auth.Login(r.Context(), req)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Login successful", result)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	account, err := h.auth.Me(r.Context(), identity)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Account retrieved", account)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if err := h.auth.Logout(r.Context(), identity); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Logged out successfully", nil)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(r, &req) {
		respondWithStatus(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "Invalid request body")
		return
	}
	identity, _ := IdentityFrom(r.Context())
	if err := h.auth.ChangePassword(r.Context(), identity, req.CurrentPassword, req.NewPassword); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Password updated successfully", nil)
}

func (h *AuthHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if err := h.auth.Deactivate(r.Context(), identity.AccountID); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Account deactivated", nil)
}
