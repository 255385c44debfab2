package dto

import (
	"github.com/Laisky/errors/v2"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs the struct tags of a DTO and returns the first violation
// as a plain error suitable for a 400 response body.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return errors.Errorf("field %s failed validation rule %s", f.Field(), f.Tag())
		}
		return errors.Wrap(err, "validate request")
	}
	return nil
}
