package repository

import (
	"context"
	"encoding/json"
	"time"
)

// Project es el contenedor de resultados de generación de un tenant.
type Project struct {
	ID          string
	TenantID    int
	UserID      int
	Name        string
	Description string
	CreatedAt   time.Time
}

// Persona es un perfil de cliente generado.
type Persona struct {
	ID        string
	ProjectID string
	TaskID    string
	Name      string
	Data      json.RawMessage
	CreatedAt time.Time
}

// Strategy es una estrategia de marketing generada.
type Strategy struct {
	ID        string
	ProjectID string
	TaskID    string
	Data      json.RawMessage
	CreatedAt time.Time
}

// Asset es una pieza de contenido generada (post, email, banner...).
type Asset struct {
	ID        string
	ProjectID string
	TaskID    string
	Type      string
	Channel   string
	Data      json.RawMessage
	CreatedAt time.Time
}

// ProjectResults es el estado completo que el cliente pide tras un evento
// terminal.
type ProjectResults struct {
	Project  Project
	Personas []Persona
	Strategy *Strategy
	Assets   []Asset
	Tasks    []GenerationTask
}

// ProjectRepository persiste proyectos y sus resultados.
type ProjectRepository interface {
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)

	AddPersonas(ctx context.Context, ps []Persona) error
	ListPersonas(ctx context.Context, projectID string) ([]Persona, error)

	// SaveStrategy guarda una estrategia; la última es la vigente.
	SaveStrategy(ctx context.Context, s *Strategy) error
	LatestStrategy(ctx context.Context, projectID string) (*Strategy, error)

	AddAsset(ctx context.Context, a *Asset) error
	ListAssets(ctx context.Context, projectID string) ([]Asset, error)
}
