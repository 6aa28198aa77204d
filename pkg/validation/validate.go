package validation

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// fingerprintPattern matches opaque device fingerprints: hex or base64-ish
// identifiers of a sane length produced by client fingerprinting libraries.
var fingerprintPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

func init() {
	validate = validator.New()

	// Domain-specific validators. Registration errors only occur for
	// invalid tag names, which would be a programming error.
	_ = validate.RegisterValidation("token_status", validateTokenStatus)
	_ = validate.RegisterValidation("flag_severity", validateFlagSeverity)
	_ = validate.RegisterValidation("store_mode", validateStoreMode)
	_ = validate.RegisterValidation("fingerprint", validateFingerprint)
	_ = validate.RegisterValidation("future", validateFuture)
	_ = validate.RegisterValidation("past", validatePast)
}

// ValidateStruct validates a struct using its validate tags. Returns a
// *ValidationError with field-level messages when validation fails.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

func validateTokenStatus(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "active", "expired", "revoked":
		return true
	}
	return false
}

func validateFlagSeverity(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "critical", "high", "medium", "low":
		return true
	}
	return false
}

func validateStoreMode(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "postgres", "memory":
		return true
	}
	return false
}

func validateFingerprint(fl validator.FieldLevel) bool {
	return fingerprintPattern.MatchString(fl.Field().String())
}

func validateFuture(fl validator.FieldLevel) bool {
	if t, ok := fl.Field().Interface().(time.Time); ok {
		return t.After(time.Now())
	}
	return false
}

func validatePast(fl validator.FieldLevel) bool {
	if t, ok := fl.Field().Interface().(time.Time); ok {
		return t.Before(time.Now())
	}
	return false
}
