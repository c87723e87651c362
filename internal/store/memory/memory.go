// Package memory implementa repository.Store en memoria. Lo usan los tests y
// el modo storage.driver=memory de desarrollo.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
)

// Store es un repository.Store respaldado por mapas protegidos por un mutex.
type Store struct {
	mu sync.Mutex

	users     map[int]repository.User
	divisions map[int]repository.Division
	access    map[int]map[int]struct{}

	tasks         map[string]repository.GenerationTask
	conversations map[string]repository.Conversation
	messages      map[string]repository.Message
	projects      map[string]repository.Project
	personas      []repository.Persona
	strategies    []repository.Strategy
	assets        []repository.Asset
}

var _ repository.Store = (*Store)(nil)

// New crea un Store vacío.
func New() *Store {
	return &Store{
		users:         map[int]repository.User{},
		divisions:     map[int]repository.Division{},
		access:        map[int]map[int]struct{}{},
		tasks:         map[string]repository.GenerationTask{},
		conversations: map[string]repository.Conversation{},
		messages:      map[string]repository.Message{},
		projects:      map[string]repository.Project{},
	}
}

func (s *Store) Users() repository.UserRepository                 { return userRepo{s} }
func (s *Store) Divisions() repository.DivisionRepository         { return divisionRepo{s} }
func (s *Store) Access() repository.AccessRepository              { return accessRepo{s} }
func (s *Store) Tasks() repository.TaskRepository                 { return taskRepo{s} }
func (s *Store) Conversations() repository.ConversationRepository { return conversationRepo{s} }
func (s *Store) Projects() repository.ProjectRepository           { return projectRepo{s} }

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close()                     {}

// ─── Users / Divisions / Access ───

type userRepo struct{ s *Store }

func (r userRepo) RecordLogin(_ context.Context, u repository.User, at time.Time) (*repository.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.users[u.ID]
	if !ok {
		cur = repository.User{ID: u.ID, CreatedAt: at}
	}
	cur.Login, cur.Name, cur.Email, cur.DivisionID = u.Login, u.Name, u.Email, u.DivisionID
	cur.LoginCount++
	t := at
	cur.LastLoginAt = &t
	cur.UpdatedAt = at
	r.s.users[u.ID] = cur
	out := cur
	return &out, nil
}

func (r userRepo) GetByID(_ context.Context, id int) (*repository.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

type divisionRepo struct{ s *Store }

func (r divisionRepo) Upsert(ctx context.Context, d repository.Division) error {
	return r.UpsertMany(ctx, []repository.Division{d})
}

func (r divisionRepo) UpsertMany(_ context.Context, ds []repository.Division) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	for _, d := range ds {
		d.UpdatedAt = now
		r.s.divisions[d.ID] = d
	}
	return nil
}

func (r divisionRepo) GetByID(_ context.Context, id int) (*repository.Division, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.divisions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

type accessRepo struct{ s *Store }

func (r accessRepo) ReplaceUserDivisions(_ context.Context, userID int, divisionIDs []int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	set := make(map[int]struct{}, len(divisionIDs))
	for _, id := range divisionIDs {
		set[id] = struct{}{}
		if _, ok := r.s.divisions[id]; !ok {
			r.s.divisions[id] = repository.Division{ID: id, UpdatedAt: time.Now()}
		}
	}
	r.s.access[userID] = set
	return nil
}

func (r accessRepo) ListUserDivisions(_ context.Context, userID int) ([]repository.Division, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]repository.Division, 0, len(r.s.access[userID]))
	for id := range r.s.access[userID] {
		out = append(out, r.s.divisions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r accessRepo) HasAccess(_ context.Context, userID, divisionID int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.access[userID][divisionID]
	return ok, nil
}
