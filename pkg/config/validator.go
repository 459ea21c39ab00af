package config

import (
	"slices"

	"github.com/go-playground/validator/v10"
)

var logLevels = []string{"debug", "info", "warn", "error", "disabled"}

// RegisterCustomValidators registers the tasktree validation tags.
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("log_level", validateLogLevel)
}

func validateLogLevel(fl validator.FieldLevel) bool {
	return slices.Contains(logLevels, fl.Field().String())
}
