package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront-api/internal/audit"
	"storefront-api/internal/models"
	"storefront-api/internal/service"
)

const defaultEventLimit = 50

// AdminHandler serves account administration. Every route needs a live admin grant.
type AdminHandler struct {
	auth   *service.AuthService
	events audit.EventSearcher
	logger *zap.Logger
}

func NewAdminHandler(auth *service.AuthService, events audit.EventSearcher, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{auth: auth, events: events, logger: logger}
}

func (h *AdminHandler) RegisterRoutes(r chi.Router, mw *Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate)
		r.Use(mw.AuthorizeRole(models.RoleAdmin))
		r.Use(mw.RequireElevatedAccess(models.RoleAdmin))

		r.Get("/admin/accounts", h.ListAccounts)
		r.Get("/admin/accounts/{id}", h.GetAccount)
		r.Put("/admin/accounts/{id}", h.UpdateAccount)
		r.Delete("/admin/accounts/{id}", h.DeactivateAccount)
		r.Post("/admin/accounts/{id}/deactivate", h.DeactivateAccount)
		r.Post("/admin/accounts/{id}/revoke-access", h.RevokeAccess)
		r.Get("/admin/accounts/{id}/access-events", h.AccessEvents)
	})
}

func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.auth.ListAccounts(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Accounts retrieved", accounts)
}

func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.auth.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Account retrieved", account)
}

func (h *AdminHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var update service.AccountUpdate
	if !decodeJSON(r, &update) {
		respondWithStatus(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "Invalid request body")
		return
	}
	account, err := h.auth.UpdateAccount(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Account updated", account)
}

func (h *AdminHandler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.auth.Deactivate(r.Context(), id); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	caller, _ := IdentityFrom(r.Context())
	h.logger.Info("account deactivated by admin",
		zap.String("account_id", id),
		zap.String("admin_id", caller.AccountID))
	respondSuccess(w, http.StatusOK, "Account deactivated", nil)
}

func (h *AdminHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.auth.RevokeElevatedAccess(r.Context(), id); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Elevated access revoked", nil)
}

func (h *AdminHandler) AccessEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.EventsForAccount(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", defaultEventLimit))
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	if events == nil {
		events = []models.AccessEvent{}
	}
	respondSuccess(w, http.StatusOK, "Access events retrieved", events)
}

// PartnerHandler serves the partner dashboard behind a live partner grant.
type PartnerHandler struct {
	auth   *service.AuthService
	access *service.ElevatedAccessService
	logger *zap.Logger
}

func NewPartnerHandler(auth *service.AuthService, access *service.ElevatedAccessService, logger *zap.Logger) *PartnerHandler {
	return &PartnerHandler{auth: auth, access: access, logger: logger}
}

type partnerDashboard struct {
	Account *models.Account       `json:"account"`
	Access  *service.AccessStatus `json:"access"`
}

func (h *PartnerHandler) RegisterRoutes(r chi.Router, mw *Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate)
		r.Use(mw.AuthorizeRole(models.RolePartner))
		r.Use(mw.RequireElevatedAccess(models.RolePartner))

		r.Get("/partner/dashboard", h.Dashboard)
	})
}

func (h *PartnerHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	account, err := h.auth.Me(r.Context(), identity)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	status, err := h.access.CheckStatus(r.Context(), identity, models.RolePartner)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Partner dashboard", partnerDashboard{Account: account, Access: status})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
