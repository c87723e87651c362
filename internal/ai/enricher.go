package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropDatabas3/cfihub/internal/cfi/services"
	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

const enrichLimit = 10

// Enricher resume datos de negocio del tenant para incluirlos en los prompts.
// Usa los servicios de dominio con el token del mensaje: sin token devuelve
// un resumen vacío.
type Enricher struct {
	svc *services.Services
}

func NewEnricher(svc *services.Services) *Enricher {
	return &Enricher{svc: svc}
}

// Summary devuelve un texto corto con operaciones en curso y stock.
// Los errores remotos se registran y no cortan la generación.
func (e *Enricher) Summary(ctx context.Context, src token.Source, tenantID int) string {
	if e == nil || e.svc == nil {
		return ""
	}
	log := logger.From(ctx).With(logger.Component("ai.enricher"), logger.TenantID(tenantID))

	var b strings.Builder
	ops, err := e.svc.Operation.List(ctx, src, tenantID, services.OperationFilter{})
	if err != nil {
		log.Warn("operations unavailable for enrichment", logger.Err(err))
	}
	for i, o := range ops {
		if i == enrichLimit {
			fmt.Fprintf(&b, "... %d more operations\n", len(ops)-enrichLimit)
			break
		}
		fmt.Fprintf(&b, "operation %d %s (%s)\n", o.ID, o.Libelle, o.Etat)
	}

	stocks, err := e.svc.Stock.List(ctx, src, tenantID, services.StockFilter{})
	if err != nil {
		log.Warn("stocks unavailable for enrichment", logger.Err(err))
	}
	for i, s := range stocks {
		if i == enrichLimit {
			fmt.Fprintf(&b, "... %d more stock lines\n", len(stocks)-enrichLimit)
			break
		}
		fmt.Fprintf(&b, "stock %s %s: %g %s\n", s.CodeArticle, s.Libelle, s.Quantite, s.Unite)
	}
	return strings.TrimSpace(b.String())
}
