package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront-api/internal/models"
	"storefront-api/internal/service"
)

// ElevatedAccessHandler exposes the request, verify and status steps for
// every elevated role under /{role}/...
type ElevatedAccessHandler struct {
	access *service.ElevatedAccessService
	logger *zap.Logger
}

func NewElevatedAccessHandler(access *service.ElevatedAccessService, logger *zap.Logger) *ElevatedAccessHandler {
	return &ElevatedAccessHandler{access: access, logger: logger}
}

// verifyRequest accepts the current "code" field and the older per-role keys.
type verifyRequest struct {
	Code       string `json:"code"`
	AdminKey   string `json:"adminKey"`
	PartnerKey string `json:"partnerKey"`
}

func (v verifyRequest) code() string {
	for _, c := range []string{v.Code, v.AdminKey, v.PartnerKey} {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}

func (h *ElevatedAccessHandler) RegisterRoutes(r chi.Router, mw *Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate)

		r.Post("/{role}/request-access", h.RequestAccess)
		r.Post("/{role}/verify-access", h.VerifyAccess)
		r.Get("/{role}/access-status", h.AccessStatus)

		for _, role := range []models.Role{models.RoleAdmin, models.RolePartner} {
			legacy := r.With(mw.AuthorizeRole(role), withRole(role))
			prefix := "/" + string(role)
			legacy.Post(prefix+"/request-"+string(role)+"-access", h.RequestAccess)
			legacy.Post(prefix+"/verify-"+string(role)+"-access", h.VerifyAccess)
			legacy.Get(prefix+"/check-"+string(role)+"-status", h.AccessStatus)
		}
	})
}

func (h *ElevatedAccessHandler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	identity, _ := IdentityFrom(r.Context())
	if err := h.access.RequestAccess(r.Context(), identity, role); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, role.Title()+" access email sent successfully", nil)
}

func (h *ElevatedAccessHandler) VerifyAccess(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if !decodeJSON(r, &req) {
		respondWithStatus(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "Invalid request body")
		return
	}
	identity, _ := IdentityFrom(r.Context())
	receipt, err := h.access.VerifyAccess(r.Context(), identity, role, req.code())
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, role.Title()+" access verified successfully", receipt)
}

func (h *ElevatedAccessHandler) AccessStatus(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	identity, _ := IdentityFrom(r.Context())
	status, err := h.access.CheckStatus(r.Context(), identity, role)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, role.Title()+" status retrieved", status)
}

type roleKey struct{}

// withRole pins the role for routes whose path carries no {role} parameter.
func withRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey{}, role)))
		})
	}
}

func roleParam(w http.ResponseWriter, r *http.Request) (models.Role, bool) {
	if role, ok := r.Context().Value(roleKey{}).(models.Role); ok {
		return role, true
	}
	role, ok := models.ParseRole(chi.URLParam(r, "role"))
	if !ok || !role.Elevated() {
		respondWithStatus(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "Endpoint not found")
		return "", false
	}
	return role, true
}

