package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// OTPLength is the number of digits in a one-time code.
const OTPLength = 6

// New creates a new validator instance with custom validations registered.
// Field names in errors are reported using their JSON names.
func New() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	// Register custom "notblank" validator - rejects whitespace-only strings
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true // Not a string, let other validators handle it
		}
		return strings.TrimSpace(str) != ""
	})

	// "otp" accepts exactly OTPLength ASCII digits
	_ = v.RegisterValidation("otp", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return IsOTPCode(str)
	})

	return v
}

// IsOTPCode reports whether s is a well-formed one-time code.
func IsOTPCode(s string) bool {
	if len(s) != OTPLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Describe converts validator errors to a client facing message.
// Only the first failing field is reported.
func Describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid request"
	}
	fe := ve[0]
	field := fe.Field()

	switch fe.Tag() {
	case "required":
		return "invalid request: " + field + " is required"
	case "notblank":
		return "invalid request: " + field + " cannot be whitespace only"
	case "max":
		return "invalid request: " + field + " exceeds maximum length of " + fe.Param()
	case "gte", "min":
		return "invalid request: " + field + " must be at least " + fe.Param()
	case "e164":
		return "invalid request: " + field + " must be an E.164 phone number such as +1234567890"
	case "otp":
		return "invalid request: " + field + " must be a 6 digit code"
	case "alphanum":
		return "invalid request: " + field + " must be alphanumeric"
	default:
		return "invalid request: " + field + " is invalid"
	}
}
