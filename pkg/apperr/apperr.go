// Package apperr defines the application-level error taxonomy shared by all
// services: not-found, validation and conflict errors. The transport layer maps
// these onto HTTP statuses; nothing inside the core retries them.
package apperr

import "errors"

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func NotFound(message string) error { return &NotFoundError{Message: message} }

func Validation(message string) error { return &ValidationError{Message: message} }

func Conflict(message string) error { return &ConflictError{Message: message} }

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}
