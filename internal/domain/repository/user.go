package repository

import (
	"context"
	"time"
)

// User es el espejo local de una identidad CFI. Se upsertea en cada login
// exitoso y nunca se borra.
type User struct {
	ID          int
	Login       string
	Name        string
	Email       string
	DivisionID  int
	LoginCount  int
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Division es el espejo local de una división (tenant) CFI.
type Division struct {
	ID        int
	Name      string
	UpdatedAt time.Time
}

// UserRepository gestiona el espejo de usuarios.
type UserRepository interface {
	// RecordLogin crea o actualiza el usuario, incrementa LoginCount y
	// fija LastLoginAt = at.
	RecordLogin(ctx context.Context, u User, at time.Time) (*User, error)

	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id int) (*User, error)
}

// DivisionRepository gestiona el espejo de divisiones.
type DivisionRepository interface {
	Upsert(ctx context.Context, d Division) error
	UpsertMany(ctx context.Context, ds []Division) error
	GetByID(ctx context.Context, id int) (*Division, error)
}

// AccessRepository es la tabla user_divisions: cache local de las divisiones
// accesibles por usuario. La fuente de verdad es CFI.
type AccessRepository interface {
	// ReplaceUserDivisions reemplaza el conjunto completo de divisiones del usuario.
	ReplaceUserDivisions(ctx context.Context, userID int, divisionIDs []int) error

	// ListUserDivisions retorna las divisiones accesibles ordenadas por id.
	ListUserDivisions(ctx context.Context, userID int) ([]Division, error)

	// HasAccess indica si divisionID está en el conjunto del usuario.
	HasAccess(ctx context.Context, userID, divisionID int) (bool, error)
}
