package controllers

import (
	"net/http"

	"github.com/dropDatabas3/cfihub/internal/cfi/services"
	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// CFIController expone los datos de negocio CFI del tenant activo. Todo pasa
// por el cache read-through de los servicios.
type CFIController struct {
	svc *services.Services
}

func NewCFIController(svc *services.Services) *CFIController {
	return &CFIController{svc: svc}
}

type listResponse[T any] struct {
	Success bool `json:"success"`
	Data    []T  `json:"data"`
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	helpers.WriteJSON(w, http.StatusOK, listResponse[T]{Success: true, Data: items})
}

// Stocks maneja GET /api/cfi/stocks?codeArticle=&depot=
func (c *CFIController) Stocks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("CFIController.Stocks"))
	st, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	q := r.URL.Query()
	items, err := c.svc.Stock.List(ctx, st.Token, p.TenantID, services.StockFilter{
		CodeArticle: q.Get("codeArticle"),
		Depot:       q.Get("depot"),
	})
	if err != nil {
		fail(w, log, err)
		return
	}
	writeList(w, items)
}

// Factures maneja GET /api/cfi/factures?codeClient=&dateDebut=&dateFin=
func (c *CFIController) Factures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("CFIController.Factures"))
	st, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	q := r.URL.Query()
	items, err := c.svc.Facturation.List(ctx, st.Token, p.TenantID, services.FactureFilter{
		CodeClient: q.Get("codeClient"),
		DateDebut:  q.Get("dateDebut"),
		DateFin:    q.Get("dateFin"),
	})
	if err != nil {
		fail(w, log, err)
		return
	}
	writeList(w, items)
}

// Operations maneja GET /api/cfi/operations?etat=&dateDebut=&dateFin=
func (c *CFIController) Operations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("CFIController.Operations"))
	st, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	q := r.URL.Query()
	items, err := c.svc.Operation.List(ctx, st.Token, p.TenantID, services.OperationFilter{
		Etat:      q.Get("etat"),
		DateDebut: q.Get("dateDebut"),
		DateFin:   q.Get("dateFin"),
	})
	if err != nil {
		fail(w, log, err)
		return
	}
	writeList(w, items)
}

// Etats maneja GET /api/cfi/etats
func (c *CFIController) Etats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("CFIController.Etats"))
	st, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	items, err := c.svc.EtatOperation.List(ctx, st.Token, p.TenantID)
	if err != nil {
		fail(w, log, err)
		return
	}
	writeList(w, items)
}

// Droits maneja GET /api/cfi/droits (permisos del usuario en el tenant activo).
func (c *CFIController) Droits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("CFIController.Droits"))
	st, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	items, err := c.svc.Utilisateur.Droits(ctx, st.Token, p.TenantID, p.UserID)
	if err != nil {
		fail(w, log, err)
		return
	}
	writeList(w, items)
}
