package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateID checks that raw is a UUID before it reaches a store.
func ValidateID(field, raw string) error {
	if err := validate.Var(raw, "required,uuid"); err != nil {
		return fmt.Errorf("%w: %s must be a uuid", ErrValidation, field)
	}
	return nil
}

// ValidateStruct runs struct tag validation and folds the field errors into
// one ErrValidation.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(parts, ", "))
}

// DecodeAndValidate decodes the JSON body into target and validates it.
func DecodeAndValidate(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return fmt.Errorf("%w: malformed body", ErrValidation)
	}
	return ValidateStruct(target)
}
