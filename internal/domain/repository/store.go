package repository

import "context"

// Store agrupa los repositorios de un backend.
type Store interface {
	Users() UserRepository
	Divisions() DivisionRepository
	Access() AccessRepository
	Tasks() TaskRepository
	Conversations() ConversationRepository
	Projects() ProjectRepository

	Ping(ctx context.Context) error
	Close()
}
