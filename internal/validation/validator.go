// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package validation provides struct validation using go-playground/validator v10.
// It exposes a thread-safe singleton validator with the custom tags used by
// RoomSync models, configuration and analysis requests:
//
//   - mmss: a playback timestamp typed by a user, "M:SS" or "MM:SS" (minutes up to 999)
//   - joincode: a room join code, 6 to 8 upper-case letters or digits
//   - messagekind: one of text, system, video_action, ai_response
//
// Example usage:
//
//	type SeekInput struct {
//	    Timestamp string `validate:"required,mmss"`
//	}
//
//	if verr := validation.ValidateStruct(&in); verr != nil {
//	    return fmt.Errorf("seek: %w", verr)
//	}
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var (
	mmssPattern     = regexp.MustCompile(`^\d{1,3}:[0-5]\d$`)
	joinCodePattern = regexp.MustCompile(`^[A-Z0-9]{6,8}$`)
)

var messageKinds = map[string]bool{
	"text":         true,
	"system":       true,
	"video_action": true,
	"ai_response":  true,
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	field   string
	tag     string
	param   string
	value   interface{}
	message string
}

// Field returns the struct field name that failed validation.
func (e *ValidationError) Field() string {
	return e.field
}

// Tag returns the validation tag that failed.
func (e *ValidationError) Tag() string {
	return e.tag
}

// Param returns the parameter for the validation tag (e.g., "100" for "max=100").
func (e *ValidationError) Param() string {
	return e.param
}

// Value returns the actual value that failed validation.
func (e *ValidationError) Value() interface{} {
	return e.value
}

// Error returns a human-readable error message.
func (e *ValidationError) Error() string {
	return e.message
}

// RequestValidationError is a collection of field validation errors.
type RequestValidationError struct {
	errors []ValidationError
}

// Errors returns the slice of validation errors.
func (ve *RequestValidationError) Errors() []ValidationError {
	return ve.errors
}

// Error implements the error interface, returning a combined error message.
func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}

	messages := make([]string, 0, len(ve.errors))
	for _, err := range ve.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// instance returns the singleton validator with the custom tags registered.
func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Registration only fails for an empty tag or nil func.
		_ = validate.RegisterValidation("mmss", func(fl validator.FieldLevel) bool {
			return IsTimestamp(fl.Field().String())
		})
		_ = validate.RegisterValidation("joincode", func(fl validator.FieldLevel) bool {
			return joinCodePattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("messagekind", func(fl validator.FieldLevel) bool {
			return messageKinds[fl.Field().String()]
		})
	})

	return validate
}

// IsTimestamp reports whether s is a well-formed MM:SS timestamp.
func IsTimestamp(s string) bool {
	return mmssPattern.MatchString(s)
}

// ValidateStruct validates a struct using the singleton validator.
// Returns nil if validation passes, or *RequestValidationError if validation fails.
func ValidateStruct(s interface{}) *RequestValidationError {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{
			errors: []ValidationError{{
				field:   "unknown",
				tag:     "unknown",
				message: err.Error(),
			}},
		}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fieldErr := range validationErrs {
		fieldErrors[i] = ValidationError{
			field:   fieldErr.Field(),
			tag:     fieldErr.Tag(),
			param:   fieldErr.Param(),
			value:   fieldErr.Value(),
			message: translateError(fieldErr),
		}
	}

	return &RequestValidationError{errors: fieldErrors}
}

// ValidateVar validates a single value against a tag expression, e.g. "required,mmss".
func ValidateVar(value interface{}, tag string) error {
	if err := instance().Var(value, tag); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			return &ValidationError{
				field:   "value",
				tag:     validationErrs[0].Tag(),
				param:   validationErrs[0].Param(),
				value:   value,
				message: translateError(validationErrs[0]),
			}
		}
		return err
	}
	return nil
}

// errorMessageTemplates maps validation tags to message templates.
var errorMessageTemplates = map[string]string{
	"required":    "%s is required",
	"url":         "%s must be a valid URL",
	"uuid":        "%s must be a valid UUID",
	"mmss":        "%s must be a timestamp in MM:SS format",
	"joincode":    "%s must be 6-8 upper-case letters or digits",
	"messagekind": "%s must be one of: text, system, video_action, ai_response",
}

// errorMessageWithParam maps validation tags to templates that include param.
var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
}

func translateError(fe validator.FieldError) string {
	field := fe.Field()
	if field == "" {
		field = "value"
	}
	tag := fe.Tag()
	param := fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}
	return translateMinMax(fe, field, tag, param)
}

// translateMinMax handles min/max validation with type-specific messages.
func translateMinMax(fe validator.FieldError, field, tag, param string) string {
	isString := fe.Kind().String() == "string"

	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
