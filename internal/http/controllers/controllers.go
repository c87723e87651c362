// Package controllers contiene los handlers HTTP de la API. Cada controller
// recibe sus dependencias explícitas; el estado de sesión llega por contexto
// (middlewares.State).
package controllers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cfihub/internal/generation"
	httperrors "github.com/dropDatabas3/cfihub/internal/http/errors"
	mw "github.com/dropDatabas3/cfihub/internal/http/middlewares"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// principal arma la identidad de quien llama (usuario, tenant activo y
// bearer vigente). Requiere RequireAuth antes en la cadena.
func principal(ctx context.Context) (*mw.State, generation.Principal, error) {
	st := mw.GetState(ctx)
	if st == nil {
		return nil, generation.Principal{}, httperrors.ErrSessionExpired
	}
	id, ok := st.Identity()
	if !ok {
		return nil, generation.Principal{}, httperrors.ErrSessionExpired
	}
	tok, ok := st.Tokens.Token()
	if !ok {
		return nil, generation.Principal{}, httperrors.ErrSessionExpired
	}
	tenantID, _ := st.Tenant.CurrentOrNull()
	return st, generation.Principal{UserID: id.UserID, TenantID: tenantID, Token: tok}, nil
}

// fail escribe err como AppError y lo loguea según severidad.
func fail(w http.ResponseWriter, log *zap.Logger, err error) {
	appErr := httperrors.FromError(err)
	if appErr.HTTPStatus >= 500 {
		log.Error("request failed", logger.String("code", appErr.Code), logger.Err(err))
	} else {
		log.Debug("request rejected", logger.String("code", appErr.Code), logger.Err(err))
	}
	httperrors.WriteError(w, appErr)
}
