package common

import (
	"errors"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// FieldError describes a single failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidator returns a validator reporting JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct runs v against dst and converts failures into a 400 AppError.
func ValidateStruct(v *validator.Validate, dst any) error {
	if v == nil {
		return nil
	}
	err := v.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return BadRequest("invalid payload", nil, err)
	}
	details := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, FieldError{Field: fe.Namespace(), Message: validationMessage(fe)})
	}
	return BadRequest("validation failed", details, err)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "gtefield":
		return "must not be before " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "uuid":
		return "must be a valid UUID"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
