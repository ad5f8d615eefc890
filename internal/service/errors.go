package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/straye-as/lead-engine/internal/domain"
	"gorm.io/gorm"
)

// Common service errors
var (
	// ErrLeadNotFound is returned when a lead does not exist within the caller's tenant
	ErrLeadNotFound = errors.New("lead not found")

	// ErrAgentNotFound is returned when an agent does not exist within the caller's tenant
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentNotAssignable is returned when an explicit agent is inactive or not assignable
	ErrAgentNotAssignable = errors.New("agent is not assignable")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidStatus is returned for an unknown lead status
	ErrInvalidStatus = errors.New("invalid lead status")

	// ErrConflict is returned when a write would break the one-open-lead-per-email rule
	ErrConflict = errors.New("resource conflict")

	// ErrExternalService is returned when the mail provider or PDF renderer fails on a path that reports it
	ErrExternalService = errors.New("external service failure")
)

var validate = validator.New()

// validationError wraps validator field errors into ErrInvalidInput
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), domain.GetValidationMessage(fe.Tag())))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(parts, "; "))
}

// storeError maps store errors onto service errors
func storeError(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
