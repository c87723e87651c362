package token

import (
	"sync"
)

// Source resuelve el bearer vigente. Los servicios CFI lo reciben como
// parámetro explícito.
type Source interface {
	Token() (string, bool)
}

// Context resuelve el token desde un override explícito (worker) o, si no
// hay, desde el SessionStore del request. Sin store devuelve ausente.
type Context struct {
	mu       sync.Mutex
	override string
	set      bool
	store    *SessionStore
}

// NewContext crea un Context. store puede ser nil (ejecución fuera de un request).
func NewContext(store *SessionStore) *Context {
	return &Context{store: store}
}

// Token implementa Source.
func (c *Context) Token() (string, bool) {
	c.mu.Lock()
	override, set, store := c.override, c.set, c.store
	c.mu.Unlock()

	if set {
		return override, override != ""
	}
	if store == nil {
		return "", false
	}
	return store.Token()
}

// SetToken fija el override explícito.
func (c *Context) SetToken(token string) {
	c.mu.Lock()
	c.override, c.set = token, true
	c.mu.Unlock()
}

// ClearToken quita el override. Los handlers lo llaman al salir, en todos los caminos.
func (c *Context) ClearToken() {
	c.mu.Lock()
	c.override, c.set = "", false
	c.mu.Unlock()
}

// HasOverride indica si hay un override activo.
func (c *Context) HasOverride() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set
}

// Static es un Source de valor fijo.
type Static string

func (s Static) Token() (string, bool) { return string(s), s != "" }
