package dto

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("device_hash", validateDeviceHash)
	validate.RegisterValidation("phone_e164", validatePhone)
}

func GetValidator() *validator.Validate {
	return validate
}

var deviceHashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// validateDeviceHash accepts a SHA-256 public key hash: 64 lowercase hex chars.
func validateDeviceHash(fl validator.FieldLevel) bool {
	return deviceHashRegex.MatchString(fl.Field().String())
}

func validatePhone(fl validator.FieldLevel) bool {
	_, err := NormalizePhone(fl.Field().String())
	return err == nil
}

var (
	mnFullRegex   = regexp.MustCompile(`^\+976\d{8}$`)
	mnLocalRegex  = regexp.MustCompile(`^\d{8}$`)
	e164LaxRegex  = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)
	nonDigitRegex = regexp.MustCompile(`\D`)
)

// ErrInvalidPhone marks a user-correctable phone format problem. It is
// rejected before any I/O and never logged as a system fault.
var ErrInvalidPhone = errors.New("invalid phone number, expected +976XXXXXXXX form")

// NormalizePhone normalizes a raw phone input Mongolia-first: a bare 8-digit
// local number gets the +976 prefix, anything else must already be a
// plausible E.164 number.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if mnFullRegex.MatchString(raw) {
		return raw, nil
	}

	digits := nonDigitRegex.ReplaceAllString(raw, "")
	if mnLocalRegex.MatchString(digits) {
		return "+976" + digits, nil
	}

	if e164LaxRegex.MatchString(raw) {
		if strings.HasPrefix(raw, "+") {
			return raw, nil
		}
		return "+" + raw, nil
	}

	return "", ErrInvalidPhone
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrorResponse struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors"`
}

func FormatValidationErrors(err error) []ValidationError {
	var out []ValidationError

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			var message string

			switch fieldError.Tag() {
			case "required":
				message = fieldError.Field() + " is required"
			case "min":
				message = fieldError.Field() + " must be at least " + fieldError.Param()
			case "max":
				message = fieldError.Field() + " must be at most " + fieldError.Param()
			case "oneof":
				message = fieldError.Field() + " must be one of: " + fieldError.Param()
			case "device_hash":
				message = fieldError.Field() + " must be a 64 character lowercase hex hash"
			case "phone_e164":
				message = "Invalid phone number format (+976XXXXXXXX)"
			case "url":
				message = fieldError.Field() + " must be a valid URL"
			default:
				message = fieldError.Field() + " is invalid"
			}

			out = append(out, ValidationError{
				Field:   fieldError.Field(),
				Message: message,
			})
		}
	}

	return out
}

func CreateValidationErrorResponse(err error) ValidationErrorResponse {
	return ValidationErrorResponse{
		Code:    400,
		Message: "Validation failed",
		Errors:  FormatValidationErrors(err),
	}
}
