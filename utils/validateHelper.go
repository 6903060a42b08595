package utils

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that reports json/csv field names and
// knows the "phone_region" tag for the given default region.
func NewValidator(phoneRegion string) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("csv"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone_region", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		return ValidatePhoneNumber(s, phoneRegion) == nil
	})
	return v
}

// ValidationMessage renders one field error in plain words.
func ValidationMessage(fe validator.FieldError) string {
	field := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return "The " + field + " field is required."
	case "max":
		return "The " + field + " may not be greater than " + fe.Param() + " characters."
	case "oneof":
		return "The selected " + field + " is invalid. Allowed: " + strings.ReplaceAll(fe.Param(), " ", ", ") + "."
	case "email":
		return "The " + field + " must be a valid email address."
	case "numeric", "number":
		return "The " + field + " must be a number."
	case "datetime":
		return "The " + field + " is not a valid date (expected " + fe.Param() + ")."
	case "phone_region":
		return "The " + field + " is not a valid phone number."
	case "gte":
		return "The " + field + " must be at least " + fe.Param() + "."
	case "lte":
		return "The " + field + " may not be greater than " + fe.Param() + "."
	default:
		return "The " + field + " is invalid (" + fe.Tag() + ")."
	}
}
