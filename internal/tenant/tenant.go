// Package tenant mantiene la división (tenant) activa de la sesión.
//
// Estados: Unset --Init--> Active(id) --Switch(válido)--> Active(nuevo);
// un Switch inválido deja Active(id) y devuelve ErrAccessDenied; Clear
// vuelve a Unset.
package tenant

import (
	"context"
	"errors"
	"fmt"
)

const keyCurrent = "tenant.current"

var (
	// ErrNoTenant indica que la sesión no tiene tenant activo.
	ErrNoTenant = errors.New("tenant: no active tenant")
	// ErrAccessDenied indica que el usuario no tiene acceso a la división pedida.
	ErrAccessDenied = errors.New("tenant: access denied")
)

// Bag es el almacenamiento por-sesión (lo implementa *session.Session).
type Bag interface {
	Get(key string, dst any) bool
	Set(key string, v any)
	Delete(key string)
}

// AccessChecker consulta la tabla user_divisions.
type AccessChecker interface {
	HasAccess(ctx context.Context, userID, divisionID int) (bool, error)
}

// Context es el tenant activo de una sesión.
type Context struct {
	bag    Bag
	access AccessChecker
}

// New crea un Context sobre bag.
func New(bag Bag, access AccessChecker) *Context {
	return &Context{bag: bag, access: access}
}

// Current devuelve el tenant activo o ErrNoTenant.
func (c *Context) Current() (int, error) {
	id, ok := c.CurrentOrNull()
	if !ok {
		return 0, ErrNoTenant
	}
	return id, nil
}

// CurrentOrNull devuelve el tenant activo si existe.
func (c *Context) CurrentOrNull() (int, bool) {
	var id int
	if !c.bag.Get(keyCurrent, &id) || id <= 0 {
		return 0, false
	}
	return id, true
}

// Has indica si hay tenant activo.
func (c *Context) Has() bool {
	_, ok := c.CurrentOrNull()
	return ok
}

// Init fija el tenant inicial tras autenticar (división de origen del usuario).
func (c *Context) Init(tenantID int) {
	if tenantID <= 0 {
		c.bag.Delete(keyCurrent)
		return
	}
	c.bag.Set(keyCurrent, tenantID)
}

// Switch cambia al tenant pedido sólo si el usuario tiene acceso. Ante
// cualquier error el tenant activo no cambia.
func (c *Context) Switch(ctx context.Context, userID, tenantID int) error {
	if tenantID <= 0 {
		return fmt.Errorf("%w: division %d", ErrAccessDenied, tenantID)
	}
	ok, err := c.access.HasAccess(ctx, userID, tenantID)
	if err != nil {
		return fmt.Errorf("tenant: check access: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: division %d", ErrAccessDenied, tenantID)
	}
	c.bag.Set(keyCurrent, tenantID)
	return nil
}

// Clear vuelve a Unset (logout).
func (c *Context) Clear() {
	c.bag.Delete(keyCurrent)
}
