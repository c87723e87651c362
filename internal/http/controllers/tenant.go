package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dropDatabas3/cfihub/internal/audit"
	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	httperrors "github.com/dropDatabas3/cfihub/internal/http/errors"
	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
	"github.com/dropDatabas3/cfihub/internal/tenant"
)

// TenantController maneja /api/tenant/*. Sus respuestas de error usan
// {"error": "..."} en lugar del envelope AppError.
type TenantController struct {
	access repository.AccessRepository
}

func NewTenantController(access repository.AccessRepository) *TenantController {
	return &TenantController{access: access}
}

type divisionDTO struct {
	ID      int    `json:"id"`
	Nom     string `json:"nom"`
	Current bool   `json:"current"`
}

type divisionsResponse struct {
	Success         bool          `json:"success"`
	Divisions       []divisionDTO `json:"divisions"`
	CurrentTenantID *int          `json:"current_tenant_id"`
}

type switchRequest struct {
	IDDivision int `json:"idDivision"`
}

type switchResponse struct {
	Success     bool `json:"success"`
	NewTenantID int  `json:"new_tenant_id"`
}

// Divisions maneja GET /api/tenant/divisions.
func (c *TenantController) Divisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("TenantController.Divisions"))

	st, p, err := principal(ctx)
	if err != nil {
		httperrors.WriteSimple(w, http.StatusUnauthorized, httperrors.ErrSessionExpired.Message)
		return
	}

	divs, err := c.access.ListUserDivisions(ctx, p.UserID)
	if err != nil {
		log.Error("list user divisions failed", logger.Err(err))
		httperrors.WriteSimple(w, http.StatusInternalServerError, "could not load divisions")
		return
	}

	current := currentTenant(st)
	out := make([]divisionDTO, 0, len(divs))
	for _, d := range divs {
		out = append(out, divisionDTO{ID: d.ID, Nom: d.Name, Current: current != nil && *current == d.ID})
	}
	helpers.WriteJSON(w, http.StatusOK, divisionsResponse{Success: true, Divisions: out, CurrentTenantID: current})
}

// Switch maneja POST /api/tenant/switch. Una división no accesible responde
// 403 y deja el tenant activo como estaba.
func (c *TenantController) Switch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("TenantController.Switch"))

	st, p, err := principal(ctx)
	if err != nil {
		httperrors.WriteSimple(w, http.StatusUnauthorized, httperrors.ErrSessionExpired.Message)
		return
	}

	var req switchRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDDivision <= 0 {
		httperrors.WriteSimple(w, http.StatusBadRequest, "idDivision is required")
		return
	}

	if err := st.Tenant.Switch(ctx, p.UserID, req.IDDivision); err != nil {
		if errors.Is(err, tenant.ErrAccessDenied) {
			audit.Log(ctx, audit.EventTenantDenied, logger.UserID(p.UserID), logger.TenantID(req.IDDivision))
			httperrors.WriteSimple(w, http.StatusForbidden, "access denied to this division")
			return
		}
		log.Error("tenant switch failed", logger.Err(err))
		httperrors.WriteSimple(w, http.StatusInternalServerError, "could not switch division")
		return
	}

	audit.Log(ctx, audit.EventTenantSwitch, logger.UserID(p.UserID), logger.TenantID(req.IDDivision))
	helpers.WriteJSON(w, http.StatusOK, switchResponse{Success: true, NewTenantID: req.IDDivision})
}
