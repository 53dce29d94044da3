package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Global validator instance (reused across all handlers)
var validate = validator.New()

// ValidateRequest checks a request DTO's struct tags. The returned message
// names every failing field using its JSON name.
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("validation failed: %w", err)
	}

	parts := make([]string, 0, len(ve))
	for _, fieldError := range ve {
		parts = append(parts, fmt.Sprintf("%s: %s", jsonFieldName(fieldError.Field()), formatValidationError(fieldError)))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, "; "))
}

// jsonFieldName lower-cases the first letter so messages match request bodies
func jsonFieldName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
