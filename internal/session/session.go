// Package session implementa la sesión HTTP del usuario: un bag de valores
// JSON persistido en cache (memory|redis) bajo "sid:<sha256(id)>".
//
// Sobre la sesión se apoyan token.SessionStore y tenant.Context; ninguno guarda
// estado global.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/cfihub/internal/cache"
	tokens "github.com/dropDatabas3/cfihub/internal/security/token"
)

const keyPrefix = "sid:"

// Session es el estado de una sesión de usuario. Seguro para uso concurrente.
type Session struct {
	ID string

	mu        sync.Mutex
	values    map[string]json.RawMessage
	dirty     bool
	destroyed bool
}

func newSession(id string) *Session {
	return &Session{ID: id, values: map[string]json.RawMessage{}}
}

// NewDetached crea una sesión que no está asociada a ningún store.
// Útil en tests y en comandos CLI.
func NewDetached() *Session { return newSession("") }

// Get decodifica el valor de key en dst. Retorna false si no existe o si no
// se puede decodificar.
func (s *Session) Get(key string, dst any) bool {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// Set guarda v (serializado a JSON) bajo key.
func (s *Session) Set(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.values[key] = raw
	s.dirty = true
	s.mu.Unlock()
}

// Delete elimina key.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
	s.mu.Unlock()
}

// Destroy vacía la sesión y la marca para borrado en el próximo Save.
func (s *Session) Destroy() {
	s.mu.Lock()
	s.values = map[string]json.RawMessage{}
	s.destroyed = true
	s.mu.Unlock()
}

// Empty indica si la sesión no tiene valores.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values) == 0
}

// Destroyed indica si Destroy fue llamado.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Store persiste sesiones en un cache.Client.
type Store struct {
	cache cache.Client
	ttl   time.Duration
}

// NewStore crea un Store. ttl <= 0 usa 12h.
func NewStore(c cache.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Store{cache: c, ttl: ttl}
}

// TTL devuelve la vida de la sesión (también la de la cookie).
func (st *Store) TTL() time.Duration { return st.ttl }

// New crea una sesión vacía con id aleatorio. No se persiste hasta Save.
func (st *Store) New() (*Session, error) {
	id, err := tokens.Random(32)
	if err != nil {
		return nil, fmt.Errorf("session: generate id: %w", err)
	}
	s := newSession(id)
	s.dirty = true
	return s, nil
}

// Load recupera la sesión id. Si no existe (o expiró) crea una nueva; el
// segundo valor indica si la sesión es nueva.
func (st *Store) Load(ctx context.Context, id string) (*Session, bool, error) {
	if id == "" {
		s, err := st.New()
		return s, true, err
	}
	raw, err := st.cache.Get(ctx, keyPrefix+tokens.Hash(id))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			s, err := st.New()
			return s, true, err
		}
		return nil, false, fmt.Errorf("session: load: %w", err)
	}
	s := newSession(id)
	if err := json.Unmarshal(raw, &s.values); err != nil {
		// payload corrupto: se descarta y se arranca limpia
		s, err := st.New()
		return s, true, err
	}
	return s, false, nil
}

// Rotate le asigna a s un id nuevo y borra la entrada del id anterior. Los
// valores se conservan; el próximo Save los escribe bajo el id nuevo. Se
// llama al autenticar, para que un sid conocido de antemano no herede la
// identidad.
func (st *Store) Rotate(ctx context.Context, s *Session) error {
	id, err := tokens.Random(32)
	if err != nil {
		return fmt.Errorf("session: generate id: %w", err)
	}

	s.mu.Lock()
	old := s.ID
	s.ID = id
	s.dirty = true
	s.mu.Unlock()

	if old == "" {
		return nil
	}
	if err := st.cache.Delete(ctx, keyPrefix+tokens.Hash(old)); err != nil {
		return fmt.Errorf("session: delete rotated: %w", err)
	}
	return nil
}

// Save persiste la sesión si cambió (o la borra si fue destruida).
func (st *Store) Save(ctx context.Context, s *Session) error {
	s.mu.Lock()
	key := keyPrefix + tokens.Hash(s.ID)
	destroyed, dirty := s.destroyed, s.dirty
	var payload []byte
	var err error
	if !destroyed && dirty {
		payload, err = json.Marshal(s.values)
	}
	s.dirty = false
	s.mu.Unlock()

	if destroyed {
		return st.cache.Delete(ctx, key)
	}
	if !dirty {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	return st.cache.Set(ctx, key, payload, st.ttl)
}

type ctxKey struct{}

// WithSession adjunta s al contexto.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext devuelve la sesión del request, o nil si no hay.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
