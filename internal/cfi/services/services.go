package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dropDatabas3/cfihub/internal/cache"
	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// Endpoints CFI.
const (
	EndpointStocks     = "/stock/liste"
	EndpointFactures   = "/facturation/liste"
	EndpointOperations = "/operation/liste"
	EndpointEtats      = "/etatoperation/liste"
	EndpointDroits     = "/utilisateur/droits"
	EndpointDivisions  = "/utilisateur/divisions"
	EndpointLogin      = "/utilisateur/login"
)

var (
	resStocks     = resource{name: "stocks", endpoint: EndpointStocks, ttl: TTLStocks, filters: []string{"codeArticle", "depot"}}
	resFactures   = resource{name: "invoices", endpoint: EndpointFactures, ttl: TTLInvoices, filters: []string{"codeClient", "dateDebut", "dateFin"}}
	resOperations = resource{name: "operations", endpoint: EndpointOperations, ttl: TTLOperations, filters: []string{"etat", "dateDebut", "dateFin"}}
	resEtats      = resource{name: "operation_states", endpoint: EndpointEtats, ttl: TTLEtats}
	resDroits     = resource{name: "rights", endpoint: EndpointDroits, ttl: TTLDroits, filters: []string{"idUtilisateur"}}
	resDivisions  = resource{name: "divisions", endpoint: EndpointDivisions, ttl: TTLDivisions, filters: []string{"idUtilisateur"}}
)

// Services agrupa los servicios de dominio. Comparten cache y singleflight.
type Services struct {
	Stock         *StockService
	Facturation   *FacturationService
	Operation     *OperationService
	EtatOperation *EtatOperationService
	Utilisateur   *UtilisateurService
}

// New crea los servicios sobre el cliente CFI y el cache indicados.
func New(client Poster, c cache.Client) *Services {
	rt := &readThrough{client: client, cache: c}
	return &Services{
		Stock:         &StockService{rt: rt},
		Facturation:   &FacturationService{rt: rt},
		Operation:     &OperationService{rt: rt},
		EtatOperation: &EtatOperationService{rt: rt},
		Utilisateur:   &UtilisateurService{rt: rt},
	}
}

// ─── Stock ───

type StockService struct{ rt *readThrough }

type StockFilter struct {
	CodeArticle string
	Depot       string
}

func (s *StockService) List(ctx context.Context, src token.Source, tenantID int, f StockFilter) ([]Stock, error) {
	return list[Stock](ctx, s.rt, resStocks, src, tenantID, map[string]string{
		"codeArticle": f.CodeArticle,
		"depot":       f.Depot,
	})
}

// ─── Facturation ───

type FacturationService struct{ rt *readThrough }

type FactureFilter struct {
	CodeClient string
	DateDebut  string
	DateFin    string
}

func (s *FacturationService) List(ctx context.Context, src token.Source, tenantID int, f FactureFilter) ([]Facture, error) {
	return list[Facture](ctx, s.rt, resFactures, src, tenantID, map[string]string{
		"codeClient": f.CodeClient,
		"dateDebut":  f.DateDebut,
		"dateFin":    f.DateFin,
	})
}

// ─── Operation ───

type OperationService struct{ rt *readThrough }

type OperationFilter struct {
	Etat      string
	DateDebut string
	DateFin   string
}

func (s *OperationService) List(ctx context.Context, src token.Source, tenantID int, f OperationFilter) ([]Operation, error) {
	return list[Operation](ctx, s.rt, resOperations, src, tenantID, map[string]string{
		"etat":      f.Etat,
		"dateDebut": f.DateDebut,
		"dateFin":   f.DateFin,
	})
}

// ─── EtatOperation ───

type EtatOperationService struct{ rt *readThrough }

func (s *EtatOperationService) List(ctx context.Context, src token.Source, tenantID int) ([]EtatOperation, error) {
	return list[EtatOperation](ctx, s.rt, resEtats, src, tenantID, nil)
}

// ─── Utilisateur ───

type UtilisateurService struct{ rt *readThrough }

// Droits lista los permisos del usuario en la división.
func (s *UtilisateurService) Droits(ctx context.Context, src token.Source, tenantID, userID int) ([]Droit, error) {
	return list[Droit](ctx, s.rt, resDroits, src, tenantID, map[string]string{
		"idUtilisateur": strconv.Itoa(userID),
	})
}

// Divisions lista las divisiones accesibles. homeDivision es el tenant que
// resuelve la llamada (la división de origen del usuario).
func (s *UtilisateurService) Divisions(ctx context.Context, src token.Source, homeDivision, userID int) ([]Division, error) {
	return list[Division](ctx, s.rt, resDivisions, src, homeDivision, map[string]string{
		"idUtilisateur": strconv.Itoa(userID),
	})
}

// LoginResult es la respuesta de /utilisateur/login.
type LoginResult struct {
	Token    string
	Identity token.Identity
	Division Division
}

// ErrInvalidLogin indica que CFI no devolvió token para las credenciales.
var ErrInvalidLogin = errors.New("cfi: invalid login response")

type loginResponse struct {
	Token       string `json:"token"`
	Utilisateur struct {
		ID          int    `json:"idUtilisateur"`
		Login       string `json:"login"`
		Nom         string `json:"nom"`
		Prenom      string `json:"prenom"`
		Email       string `json:"email"`
		IDDivision  int    `json:"idDivision"`
		NomDivision string `json:"nomDivision"`
	} `json:"utilisateur"`
}

// Login autentica contra CFI (endpoint anónimo, sin cache).
func (s *UtilisateurService) Login(ctx context.Context, login, password string) (*LoginResult, error) {
	raw, err := s.rt.client.Post(ctx, EndpointLogin, map[string]string{
		"login":    login,
		"password": password,
	}, "")
	if err != nil {
		return nil, err
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLogin, err)
	}
	u := resp.Utilisateur
	if resp.Token == "" || u.ID <= 0 {
		logger.From(ctx).Warn("cfi login response without token or user", logger.Component("cfi.services"))
		return nil, ErrInvalidLogin
	}

	name := u.Nom
	if u.Prenom != "" {
		name = u.Prenom + " " + u.Nom
	}
	return &LoginResult{
		Token: resp.Token,
		Identity: token.Identity{
			UserID:     u.ID,
			Login:      u.Login,
			Name:       name,
			Email:      u.Email,
			DivisionID: u.IDDivision,
		},
		Division: Division{ID: u.IDDivision, Nom: u.NomDivision},
	}, nil
}
