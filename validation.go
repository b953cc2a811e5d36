package auth

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// ValidationError converts ozzo validation errors into a bad input error
// carrying one metadata entry per failing field
func ValidationError(err error) error {
	if err == nil {
		return nil
	}

	fields := map[string]any{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
	}

	return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid payload").
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(fields)
}

// MaxPasswordBytes is the bcrypt input limit
const MaxPasswordBytes = 72

const defaultMinPasswordLength = 8

// PasswordRule checks the password length in bytes, the unit bcrypt counts
func PasswordRule(min int) validation.Rule {
	if min <= 0 {
		min = defaultMinPasswordLength
	}
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if len(s) < min || len(s) > MaxPasswordBytes {
			return fmt.Errorf("must be between %d and %d bytes", min, MaxPasswordBytes)
		}
		return nil
	})
}
