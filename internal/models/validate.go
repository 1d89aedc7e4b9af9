package models

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("status", func(fl validator.FieldLevel) bool {
			return Status(fl.Field().String()).Valid()
		})
	})
	return validate
}

// ValidateSLAConfiguration rejects configurations that cannot be evaluated
func ValidateSLAConfiguration(cfg SLAConfiguration) error {
	if err := validatorInstance().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %s", ErrMisconfiguredSLA, describe(err))
	}
	return nil
}

// ValidateEscalationRule rejects rules that cannot be evaluated
func ValidateEscalationRule(rule EscalationRule) error {
	if err := validatorInstance().Struct(rule); err != nil {
		return fmt.Errorf("%w: %s", ErrMisconfiguredSLA, describe(err))
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
