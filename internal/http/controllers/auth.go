package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/cfihub/internal/audit"
	"github.com/dropDatabas3/cfihub/internal/cfi/client"
	"github.com/dropDatabas3/cfihub/internal/cfi/services"
	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	httperrors "github.com/dropDatabas3/cfihub/internal/http/errors"
	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	mw "github.com/dropDatabas3/cfihub/internal/http/middlewares"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// Authenticator es lo que AuthController necesita de CFI.
type Authenticator interface {
	Login(ctx context.Context, login, password string) (*services.LoginResult, error)
	Divisions(ctx context.Context, src token.Source, homeDivision, userID int) ([]services.Division, error)
}

// AuthController maneja /api/auth/*.
type AuthController struct {
	cfi       Authenticator
	users     repository.UserRepository
	divisions repository.DivisionRepository
	access    repository.AccessRepository
	now       func() time.Time
}

func NewAuthController(cfi Authenticator, store repository.Store) *AuthController {
	return &AuthController{
		cfi:       cfi,
		users:     store.Users(),
		divisions: store.Divisions(),
		access:    store.Access(),
		now:       time.Now,
	}
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type meResponse struct {
	Success         bool      `json:"success"`
	User            userDTO   `json:"user"`
	CurrentTenantID *int      `json:"current_tenant_id"`
	ExpiresAt       time.Time `json:"expires_at"`
	ShouldRefresh   bool      `json:"should_refresh"`
}

type userDTO struct {
	ID         int    `json:"id"`
	Login      string `json:"login"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	DivisionID int    `json:"division_id"`
}

// Login maneja POST /api/auth/login: autentica contra CFI, refleja el usuario
// y su división localmente, siembra token y tenant en la sesión y sincroniza
// las divisiones accesibles.
func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("AuthController.Login"))

	st := mw.GetState(ctx)
	if st == nil {
		fail(w, log, errors.New("session state missing"))
		return
	}

	var req loginRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	req.Login = strings.TrimSpace(req.Login)
	if req.Login == "" || req.Password == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("login and password are required"))
		return
	}

	res, err := c.cfi.Login(ctx, req.Login, req.Password)
	if err != nil {
		var cfiErr *client.Error
		if errors.Is(err, services.ErrInvalidLogin) || (errors.As(err, &cfiErr) && cfiErr.Kind == client.KindClient) {
			log.Info("cfi login rejected", logger.Err(err))
			audit.Log(ctx, audit.EventLoginFailed, logger.String("login", audit.Mask(req.Login)))
			httperrors.WriteError(w, httperrors.ErrInvalidCredentials)
			return
		}
		fail(w, log, err)
		return
	}
	id := res.Identity
	log = log.With(logger.UserID(id.UserID), logger.TenantID(id.DivisionID))

	if _, err := c.users.RecordLogin(ctx, repository.User{
		ID: id.UserID, Login: id.Login, Name: id.Name, Email: id.Email, DivisionID: id.DivisionID,
	}, c.now()); err != nil {
		fail(w, log, err)
		return
	}
	if id.DivisionID > 0 {
		if err := c.divisions.Upsert(ctx, repository.Division{ID: id.DivisionID, Name: res.Division.Nom}); err != nil {
			fail(w, log, err)
			return
		}
	}

	// id de sesión nuevo: un sid fijado antes del login no hereda la identidad
	if err := st.RotateSession(ctx); err != nil {
		fail(w, log, err)
		return
	}
	// sesión limpia antes de sembrar la nueva identidad
	st.Tokens.Clear()
	st.Tenant.Clear()
	st.Tokens.SetToken(res.Token)
	st.Tokens.SetUser(id)
	if id.DivisionID > 0 {
		st.Tenant.Init(id.DivisionID)
	}

	c.syncAccess(ctx, res.Token, id)
	audit.Log(ctx, audit.EventLogin, logger.UserID(id.UserID), logger.TenantID(id.DivisionID))

	exp, _ := st.Tokens.ExpiresAt()
	helpers.WriteJSON(w, http.StatusOK, meResponse{
		Success:         true,
		User:            toUserDTO(id),
		CurrentTenantID: currentTenant(st),
		ExpiresAt:       exp,
	})
}

// syncAccess reemplaza las divisiones accesibles del usuario con las que
// informa CFI. Si CFI falla se conserva el conjunto anterior.
func (c *AuthController) syncAccess(ctx context.Context, bearer string, id token.Identity) {
	log := logger.From(ctx).With(logger.Op("AuthController.syncAccess"), logger.UserID(id.UserID))

	divs, err := c.cfi.Divisions(ctx, token.Static(bearer), id.DivisionID, id.UserID)
	if err != nil {
		log.Warn("division sync failed, keeping previous access list", logger.Err(err))
		return
	}

	seen := map[int]bool{}
	var rows []repository.Division
	var ids []int
	if id.DivisionID > 0 {
		seen[id.DivisionID] = true
		ids = append(ids, id.DivisionID)
	}
	for _, d := range divs {
		rows = append(rows, repository.Division{ID: d.ID, Name: d.Nom})
		if !seen[d.ID] {
			seen[d.ID] = true
			ids = append(ids, d.ID)
		}
	}
	if len(rows) > 0 {
		if err := c.divisions.UpsertMany(ctx, rows); err != nil {
			log.Warn("upsert divisions failed", logger.Err(err))
			return
		}
	}
	if err := c.access.ReplaceUserDivisions(ctx, id.UserID, ids); err != nil {
		log.Warn("replace user divisions failed", logger.Err(err))
		return
	}
	log.Debug("division access synced", logger.Count(len(ids)))
}

// Logout maneja POST /api/auth/logout.
func (c *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	if st := mw.GetState(r.Context()); st != nil {
		if id, ok := st.Identity(); ok {
			audit.Log(r.Context(), audit.EventLogout, logger.UserID(id.UserID))
		}
		st.Tokens.Clear()
		st.Tenant.Clear()
		st.Session.Destroy()
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me maneja GET /api/auth/me.
func (c *AuthController) Me(w http.ResponseWriter, r *http.Request) {
	st := mw.GetState(r.Context())
	id, ok := st.Identity()
	if !ok {
		httperrors.WriteError(w, httperrors.ErrSessionExpired)
		return
	}
	exp, _ := st.Tokens.ExpiresAt()
	helpers.WriteJSON(w, http.StatusOK, meResponse{
		Success:         true,
		User:            toUserDTO(id),
		CurrentTenantID: currentTenant(st),
		ExpiresAt:       exp,
		ShouldRefresh:   st.Tokens.ShouldRefresh(),
	})
}

func toUserDTO(id token.Identity) userDTO {
	return userDTO{ID: id.UserID, Login: id.Login, Name: id.Name, Email: id.Email, DivisionID: id.DivisionID}
}

func currentTenant(st *mw.State) *int {
	if t, ok := st.Tenant.CurrentOrNull(); ok {
		return &t
	}
	return nil
}
