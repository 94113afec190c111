package app

import (
	"errors"
	"fmt"
	"net/http"

	"persona/api/internal/document"
	"persona/api/internal/export"
	"persona/api/internal/persona"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrHistoryDisabled is returned when no history directory is configured.
var ErrHistoryDisabled = errors.New("persona history is not enabled")

// mapError translates errors from the domain packages into an HTTP status and
// a stable error code. Anything unrecognised is a server error whose cause is
// not exposed.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var personaErr *persona.Error
	if errors.As(err, &personaErr) {
		switch personaErr.Kind {
		case persona.KindAlreadyExists:
			return http.StatusConflict, "ALREADY_EXISTS", personaErr.Error(), nil
		case persona.KindNotFound:
			return http.StatusNotFound, "NOT_FOUND", personaErr.Error(), nil
		case persona.KindConflict:
			return http.StatusConflict, "CONFLICT", personaErr.Error(), nil
		case persona.KindInvalidName:
			return http.StatusBadRequest, "VALIDATION_ERROR", personaErr.Error(), map[string]any{"name": personaErr.Name}
		}
	}

	switch {
	case errors.Is(err, document.ErrNotFound), errors.Is(err, export.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, document.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Only PDF, DOC and DOCX documents are accepted", nil
	case errors.Is(err, document.ErrEmpty):
		return http.StatusBadRequest, "EMPTY_BODY", "Document body is empty", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "format must be pdf or docx", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export converter is not installed", nil
	case errors.Is(err, ErrHistoryDisabled):
		return http.StatusServiceUnavailable, "HISTORY_DISABLED", "Persona history is not enabled", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
