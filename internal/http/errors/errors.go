// Package errors define el envelope JSON de error de la API y el mapeo desde
// los errores de dominio.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/cfihub/internal/cfi/client"
	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/generation"
	"github.com/dropDatabas3/cfihub/internal/progress"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
	"github.com/dropDatabas3/cfihub/internal/tenant"
)

// AppError es el error estándar de la API.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa, sólo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetail devuelve una copia con detalle.
func (e *AppError) WithDetail(detail string) *AppError {
	c := *e
	c.Detail = detail
	return &c
}

// WithCause devuelve una copia con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	c := *e
	c.Err = err
	return &c
}

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "The request is malformed or missing parameters.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "The request body is not valid JSON.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid login or password.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrSessionExpired = &AppError{
		Code:       "SESSION_EXPIRED",
		Message:    "Your session has expired, please log in again.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrTokenInvalid = &AppError{
		Code:       "TOKEN_INVALID",
		Message:    "The subscriber token is invalid or expired.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "You are not allowed to perform this action.",
		HTTPStatus: http.StatusForbidden,
	}
	ErrNoTenant = &AppError{
		Code:       "NO_TENANT",
		Message:    "No division is selected.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "The requested resource was not found.",
		HTTPStatus: http.StatusNotFound,
	}
	ErrRouteNotFound = &AppError{
		Code:       "ROUTE_NOT_FOUND",
		Message:    "The requested route does not exist.",
		HTTPStatus: http.StatusNotFound,
	}
	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "The HTTP method is not allowed for this resource.",
		HTTPStatus: http.StatusMethodNotAllowed,
	}
	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "The request conflicts with the current state.",
		HTTPStatus: http.StatusConflict,
	}
	ErrStillRunning = &AppError{
		Code:       "STILL_RUNNING",
		Message:    "Still processing in background, check back later.",
		HTTPStatus: http.StatusAccepted,
	}
	ErrRateLimited = &AppError{
		Code:       "RATE_LIMITED",
		Message:    "Too many attempts, try again later.",
		HTTPStatus: http.StatusTooManyRequests,
	}
	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Unexpected error.",
		HTTPStatus: http.StatusInternalServerError,
	}
	ErrUpstream = &AppError{
		Code:       "UPSTREAM_ERROR",
		Message:    "The business API failed, try again later.",
		HTTPStatus: http.StatusBadGateway,
	}
	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "Service temporarily unavailable, try again later.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// FromError convierte err en AppError. Los errores de dominio conocidos se
// mapean a su status; el resto es un 500 que conserva la causa.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var cfiErr *client.Error
	switch {
	case err == nil:
		return ErrInternalServerError
	case errors.Is(err, client.ErrTokenRequired), client.IsUnauthorized(err):
		return ErrSessionExpired.WithCause(err)
	case errors.Is(err, tenant.ErrAccessDenied):
		return ErrForbidden.WithCause(err)
	case errors.Is(err, tenant.ErrNoTenant):
		return ErrNoTenant.WithCause(err)
	case errors.Is(err, pubsub.ErrInvalidSubscriberToken):
		return ErrTokenInvalid.WithCause(err)
	case errors.Is(err, pubsub.ErrTopicNotAllowed):
		return ErrForbidden.WithCause(err)
	case errors.Is(err, repository.ErrInvalidInput):
		return ErrBadRequest.WithDetail(err.Error()).WithCause(err)
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound.WithCause(err)
	case errors.Is(err, repository.ErrConflict):
		return ErrConflict.WithCause(err)
	case errors.Is(err, progress.ErrStillRunning):
		return ErrStillRunning.WithCause(err)
	case errors.Is(err, generation.ErrEnqueue):
		return ErrServiceUnavailable.WithCause(err)
	case errors.As(err, &cfiErr):
		if cfiErr.Kind == client.KindTransport {
			return ErrServiceUnavailable.WithCause(err)
		}
		return ErrUpstream.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}
