package repository

import "errors"

// Errores comunes a todos los backends. Los adapters envuelven con %w.
var (
	// ErrNotFound: la fila no existe o está borrada (soft delete).
	ErrNotFound = errors.New("repository: not found")

	// ErrConflict: id duplicado o violación de constraint.
	ErrConflict = errors.New("repository: conflict")

	// ErrInvalidInput: el registro no pasa la validación de dominio.
	ErrInvalidInput = errors.New("repository: invalid input")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
