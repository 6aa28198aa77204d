package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError carries field-level messages for a failed request.
type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Errors))
	for field, msg := range v.Errors {
		parts = append(parts, field+": "+msg)
	}
	return strings.Join(parts, "; ")
}

// NewValidationError converts validator output into field-level messages.
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string, len(errs))
	for _, err := range errs {
		fields[err.Field()] = messageFor(err)
	}
	return &ValidationError{Errors: fields}
}

// messageTemplates map a validation tag to a human-readable format string.
// %[1]s is the field name, %[2]s the tag parameter.
var messageTemplates = map[string]string{
	"required":      "%[1]s is required",
	"email":         "%[1]s must be a valid email address",
	"min":           "%[1]s must be at least %[2]s characters long",
	"max":           "%[1]s must be at most %[2]s characters long",
	"len":           "%[1]s must be exactly %[2]s characters long",
	"gte":           "%[1]s must be greater than or equal to %[2]s",
	"lte":           "%[1]s must be less than or equal to %[2]s",
	"gt":            "%[1]s must be greater than %[2]s",
	"lt":            "%[1]s must be less than %[2]s",
	"oneof":         "%[1]s must be one of: %[2]s",
	"uuid":          "%[1]s must be a valid UUID",
	"url":           "%[1]s must be a valid URL",
	"alphanum":      "%[1]s must contain only alphanumeric characters",
	"alpha":         "%[1]s must contain only alphabetic characters",
	"numeric":       "%[1]s must be numeric",
	"token_status":  "%[1]s must be a valid token status (active, expired, revoked)",
	"flag_severity": "%[1]s must be a valid severity (critical, high, medium, low)",
	"store_mode":    "%[1]s must be a valid store mode (postgres, memory)",
	"fingerprint":   "%[1]s must be a valid device fingerprint",
	"future":        "%[1]s must be a future date/time",
	"past":          "%[1]s must be a past date/time",
}

func messageFor(err validator.FieldError) string {
	template, ok := messageTemplates[err.Tag()]
	if !ok {
		return fmt.Sprintf("%s is invalid", err.Field())
	}
	return fmt.Sprintf(template, err.Field(), err.Param())
}
