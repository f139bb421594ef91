package app

import (
	"errors"
	"fmt"
	"net/http"

	"ethos/api/internal/archive"
	"ethos/api/internal/export"
	"ethos/api/internal/gitrepo"
	"ethos/api/internal/governance"
	"ethos/api/internal/moderation"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var moderationErr *moderation.ServiceError
	if errors.As(err, &moderationErr) {
		return http.StatusInternalServerError, "MODERATION_UNAVAILABLE", "Moderation service unavailable", nil
	}
	if errors.Is(err, governance.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Entry not found", nil
	}
	if errors.Is(err, governance.ErrInvalidVoter) {
		return http.StatusBadRequest, "VALIDATION_ERROR", "userId is required", nil
	}
	var persistenceErr *governance.PersistenceError
	if errors.As(err, &persistenceErr) {
		return http.StatusInternalServerError, "PERSISTENCE_ERROR", "Storage unavailable", nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Supported formats: html, pdf, docx", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusNotImplemented, "EXPORT_UNAVAILABLE", "Export dependency is not installed", nil
	}
	if errors.Is(err, gitrepo.ErrCommitNotFound) {
		return http.StatusNotFound, "COMMIT_NOT_FOUND", "Mirror commit not found", nil
	}
	if errors.Is(err, archive.ErrNotConfigured) {
		return http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "Archive storage is not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
