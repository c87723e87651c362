package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/generation"
	httperrors "github.com/dropDatabas3/cfihub/internal/http/errors"
	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
	"github.com/dropDatabas3/cfihub/internal/tenant"
)

// ProjectsController maneja proyectos, el disparo de generaciones y la
// lectura del estado completo de resultados.
type ProjectsController struct {
	projects   repository.ProjectRepository
	tasks      repository.TaskRepository
	dispatcher *generation.Dispatcher
	newID      func() string
}

func NewProjectsController(store repository.Store, d *generation.Dispatcher) *ProjectsController {
	return &ProjectsController{
		projects:   store.Projects(),
		tasks:      store.Tasks(),
		dispatcher: d,
		newID:      uuid.NewString,
	}
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type projectDTO struct {
	ID          string    `json:"id"`
	TenantID    int       `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type personaDTO struct {
	ID     string          `json:"id"`
	TaskID string          `json:"task_id"`
	Name   string          `json:"name"`
	Data   json.RawMessage `json:"data"`
}

type strategyDTO struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

type assetDTO struct {
	ID      string          `json:"id"`
	TaskID  string          `json:"task_id"`
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type resultsResponse struct {
	Success  bool         `json:"success"`
	Project  projectDTO   `json:"project"`
	Personas []personaDTO `json:"personas"`
	Strategy *strategyDTO `json:"strategy"`
	Assets   []assetDTO   `json:"assets"`
	Tasks    []taskDTO    `json:"tasks"`
}

// Create maneja POST /api/projects.
func (c *ProjectsController) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ProjectsController.Create"))

	_, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	if p.TenantID <= 0 {
		fail(w, log, tenant.ErrNoTenant)
		return
	}

	var req createProjectRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("name is required"))
		return
	}

	pr := &repository.Project{
		ID:          c.newID(),
		TenantID:    p.TenantID,
		UserID:      p.UserID,
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
	}
	if err := c.projects.Create(ctx, pr); err != nil {
		fail(w, log, err)
		return
	}
	log.Info("project created", logger.String("project_id", pr.ID), logger.TenantID(p.TenantID))
	helpers.WriteJSON(w, http.StatusCreated, toProjectDTO(pr))
}

// Results maneja GET /api/projects/{id}/results: estado autoritativo que el
// cliente relee tras un evento terminal.
func (c *ProjectsController) Results(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ProjectsController.Results"))

	_, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	pr, err := c.ownedProject(r, p)
	if err != nil {
		fail(w, log, err)
		return
	}

	personas, err := c.projects.ListPersonas(ctx, pr.ID)
	if err != nil {
		fail(w, log, err)
		return
	}
	strategy, err := c.projects.LatestStrategy(ctx, pr.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		fail(w, log, err)
		return
	}
	assets, err := c.projects.ListAssets(ctx, pr.ID)
	if err != nil {
		fail(w, log, err)
		return
	}
	tasks, err := c.tasks.ListByProject(ctx, pr.ID)
	if err != nil {
		fail(w, log, err)
		return
	}

	resp := resultsResponse{
		Success:  true,
		Project:  toProjectDTO(pr),
		Personas: make([]personaDTO, 0, len(personas)),
		Assets:   make([]assetDTO, 0, len(assets)),
		Tasks:    make([]taskDTO, 0, len(tasks)),
	}
	for _, ps := range personas {
		resp.Personas = append(resp.Personas, personaDTO{ID: ps.ID, TaskID: ps.TaskID, Name: ps.Name, Data: ps.Data})
	}
	if strategy != nil {
		resp.Strategy = &strategyDTO{ID: strategy.ID, TaskID: strategy.TaskID, Data: strategy.Data, CreatedAt: strategy.CreatedAt}
	}
	for _, a := range assets {
		resp.Assets = append(resp.Assets, assetDTO{ID: a.ID, TaskID: a.TaskID, Type: a.Type, Channel: a.Channel, Data: a.Data})
	}
	for i := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskDTO(&tasks[i]))
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// GeneratePersonas maneja POST /api/projects/{id}/personas/generate.
func (c *ProjectsController) GeneratePersonas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ProjectsController.GeneratePersonas"))

	_, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	var in generation.PersonasInput
	if err := helpers.ReadJSON(w, r, &in); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	ack, err := c.dispatcher.DispatchPersonas(ctx, p, chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, log, err)
		return
	}
	helpers.WriteJSON(w, http.StatusAccepted, ackResponse{Success: true, Ack: *ack})
}

// GenerateStrategy maneja POST /api/projects/{id}/strategy/generate.
func (c *ProjectsController) GenerateStrategy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ProjectsController.GenerateStrategy"))

	_, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	var in generation.StrategyInput
	if err := helpers.ReadJSON(w, r, &in); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	ack, err := c.dispatcher.DispatchStrategy(ctx, p, chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, log, err)
		return
	}
	helpers.WriteJSON(w, http.StatusAccepted, ackResponse{Success: true, Ack: *ack})
}

// GenerateAssets maneja POST /api/projects/{id}/assets/generate.
func (c *ProjectsController) GenerateAssets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ProjectsController.GenerateAssets"))

	_, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	var in generation.AssetsInput
	if err := helpers.ReadJSON(w, r, &in); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	ack, err := c.dispatcher.DispatchAssets(ctx, p, chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, log, err)
		return
	}
	helpers.WriteJSON(w, http.StatusAccepted, ackResponse{Success: true, Ack: *ack})
}

// ownedProject resuelve {id} y exige que pertenezca al tenant activo.
func (c *ProjectsController) ownedProject(r *http.Request, p generation.Principal) (*repository.Project, error) {
	if p.TenantID <= 0 {
		return nil, tenant.ErrNoTenant
	}
	pr, err := c.projects.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if pr.TenantID != p.TenantID {
		return nil, repository.ErrNotFound
	}
	return pr, nil
}

type ackResponse struct {
	Success bool `json:"success"`
	generation.Ack
}

func toProjectDTO(p *repository.Project) projectDTO {
	return projectDTO{ID: p.ID, TenantID: p.TenantID, Name: p.Name, Description: p.Description, CreatedAt: p.CreatedAt}
}
